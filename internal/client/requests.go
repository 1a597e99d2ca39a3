package client

import "github.com/Tyrowin/roomrelay/internal/protocol"

type authRequest struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type joinRequest struct {
	Type   string `json:"type"`
	RoomID int64  `json:"roomId"`
}

type messageRequest struct {
	Type    string `json:"type"`
	RoomID  int64  `json:"roomId"`
	Message string `json:"message"`
}

type typingRequest struct {
	Type     string `json:"type"`
	RoomID   int64  `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// Auth sends an auth frame.
func (c *Client) Auth(token string) error {
	return c.Send(authRequest{Type: protocol.TypeAuth, Token: token})
}

// Join asks to join roomID.
func (c *Client) Join(roomID int64) error {
	return c.Send(joinRequest{Type: protocol.TypeJoin, RoomID: roomID})
}

// SendMessage posts text to roomID. The message is shown once the relay
// broadcasts it back; nothing is echoed locally.
func (c *Client) SendMessage(roomID int64, text string) error {
	return c.Send(messageRequest{Type: protocol.TypeMessage, RoomID: roomID, Message: text})
}

// Typing announces that the user started or stopped typing in roomID.
func (c *Client) Typing(roomID int64, isTyping bool) error {
	return c.Send(typingRequest{Type: protocol.TypeTyping, RoomID: roomID, IsTyping: isTyping})
}
