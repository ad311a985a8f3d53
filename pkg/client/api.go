package client

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/courierchat/courier/pkg/protocol"
)

// ErrServer wraps an error-status response so callers can distinguish
// protocol rejections from transport failures.
type ErrServer struct {
	Action  string
	Message string
}

func (e *ErrServer) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Action, e.Message)
}

const defaultTimeout = 10 * time.Second

func (c *Connection) do(req protocol.Request) (*protocol.Response, error) {
	resp, err := c.roundTrip(req, defaultTimeout)
	if err != nil {
		return nil, err
	}
	if resp.Status != protocol.StatusSuccess {
		return nil, &ErrServer{Action: req.Action, Message: resp.Message}
	}
	return resp, nil
}

// Register creates an account. The password travels as the caller provides
// it; hash before calling when the deployment expects hashed credentials.
func (c *Connection) Register(username, password string) error {
	_, err := c.do(protocol.Request{
		Action:   protocol.ActionRegister,
		Username: username,
		Password: password,
	})
	return err
}

// Login authenticates and binds this connection as the user's live session.
func (c *Connection) Login(username, password string) error {
	_, err := c.do(protocol.Request{
		Action:   protocol.ActionLogin,
		Username: username,
		Password: password,
	})
	return err
}

// AddContact adds contact to username's contact list.
func (c *Connection) AddContact(username, contact string) error {
	_, err := c.do(protocol.Request{
		Action:          protocol.ActionAddContact,
		Username:        username,
		ContactUsername: contact,
	})
	return err
}

// Contacts returns username's contact list in insertion order.
func (c *Connection) Contacts(username string) ([]string, error) {
	resp, err := c.do(protocol.Request{
		Action:   protocol.ActionGetContacts,
		Username: username,
	})
	if err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// SendMessage relays a text message from sender to receiver.
func (c *Connection) SendMessage(sender, receiver, content string) error {
	_, err := c.do(protocol.Request{
		Action:   protocol.ActionSendMessage,
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
	})
	return err
}

// SendFile relays a file attachment. The server may store it under a
// different identifier than filename; the receiver learns the final
// identifier from the push or from history.
func (c *Connection) SendFile(sender, receiver, content, filename string, data []byte) error {
	_, err := c.do(protocol.Request{
		Action:      protocol.ActionSendMessage,
		Sender:      sender,
		Receiver:    receiver,
		Content:     content,
		IsFile:      true,
		FilePath:    filename,
		FileContent: base64.StdEncoding.EncodeToString(data),
	})
	return err
}

// Messages returns the full conversation between two users, oldest first.
func (c *Connection) Messages(user1, user2 string) ([]protocol.MessageRecord, error) {
	resp, err := c.do(protocol.Request{
		Action: protocol.ActionGetMessages,
		User1:  user1,
		User2:  user2,
	})
	if err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// GetFile fetches a stored attachment by its identifier.
func (c *Connection) GetFile(identifier string) ([]byte, error) {
	resp, err := c.do(protocol.Request{
		Action:   protocol.ActionGetFile,
		FilePath: identifier,
	})
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(resp.FileContent)
	if err != nil {
		return nil, fmt.Errorf("get_file: bad payload encoding: %w", err)
	}
	return data, nil
}
