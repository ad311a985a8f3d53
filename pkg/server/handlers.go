package server

import (
	"encoding/base64"
	"errors"
	"regexp"
	"time"

	"github.com/courierchat/courier/pkg/database"
	"github.com/courierchat/courier/pkg/filestore"
	"github.com/courierchat/courier/pkg/protocol"
)

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)

func errorResponse(message string) protocol.Response {
	return protocol.Response{
		Status:  protocol.StatusError,
		Message: message,
	}
}

func successResponse(message string) protocol.Response {
	return protocol.Response{
		Status:  protocol.StatusSuccess,
		Message: message,
	}
}

// dispatch routes one request to its action handler. Every action failure
// is recovered here as an error envelope for this request; only
// stream-level I/O (handled by the caller) terminates the connection.
func (s *Server) dispatch(sess *Session, req *protocol.Request) protocol.Response {
	switch req.Action {
	case protocol.ActionRegister:
		return s.handleRegister(req)
	case protocol.ActionLogin:
		return s.handleLogin(sess, req)
	case protocol.ActionAddContact:
		return s.handleAddContact(req)
	case protocol.ActionGetContacts:
		return s.handleGetContacts(req)
	case protocol.ActionSendMessage:
		return s.handleSendMessage(sess, req)
	case protocol.ActionGetMessages:
		return s.handleGetMessages(req)
	case protocol.ActionGetFile:
		return s.handleGetFile(req)
	default:
		return errorResponse("Invalid action")
	}
}

func (s *Server) handleRegister(req *protocol.Request) protocol.Response {
	if !usernameRegex.MatchString(req.Username) {
		return errorResponse("Invalid username. Must be 1-64 characters, alphanumeric plus . - _")
	}
	if req.Password == "" {
		return errorResponse("Password required")
	}

	if _, err := s.db.CreateUser(req.Username, req.Password); err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return errorResponse("Username already exists")
		}
		errorLog.Printf("CreateUser %s failed: %v", req.Username, err)
		return errorResponse("Registration failed")
	}

	return successResponse("Registration successful")
}

// handleLogin authenticates and binds the session to this connection.
// The session and all push traffic live on the same stream the login was
// issued on; a duplicate login elsewhere evicts and closes this one.
func (s *Server) handleLogin(sess *Session, req *protocol.Request) protocol.Response {
	ok, err := s.db.Authenticate(req.Username, req.Password)
	if err != nil {
		errorLog.Printf("Authenticate %s failed: %v", req.Username, err)
		return errorResponse("Login failed")
	}
	if !ok {
		return errorResponse("Invalid credentials")
	}

	if evicted := s.registry.Bind(req.Username, sess); evicted != nil {
		debugLog.Printf("Session %d: evicting stale session %d for %s", sess.ID, evicted.ID, req.Username)
		// Closing the stale connection wakes its handler, which drops it.
		evicted.Conn.Close()
	}

	return successResponse("Login successful")
}

func (s *Server) handleAddContact(req *protocol.Request) protocol.Response {
	if err := s.db.AddContact(req.Username, req.ContactUsername); err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return errorResponse("User not found")
		}
		errorLog.Printf("AddContact %s -> %s failed: %v", req.Username, req.ContactUsername, err)
		return errorResponse("Failed to add contact")
	}
	return successResponse("Contact added successfully")
}

func (s *Server) handleGetContacts(req *protocol.Request) protocol.Response {
	contacts, err := s.db.Contacts(req.Username)
	if err != nil {
		errorLog.Printf("Contacts %s failed: %v", req.Username, err)
		return errorResponse("Failed to list contacts")
	}
	return protocol.Response{
		Status:   protocol.StatusSuccess,
		Contacts: contacts,
	}
}

// handleSendMessage persists the message (storing the file payload first if
// one is attached) and then pushes a notification to the receiver's live
// session, if any.
func (s *Server) handleSendMessage(sess *Session, req *protocol.Request) protocol.Response {
	filePath := req.FilePath

	if req.IsFile && req.FileContent != "" && req.FilePath != "" {
		data, err := base64.StdEncoding.DecodeString(req.FileContent)
		if err != nil {
			return errorResponse("Invalid file content encoding")
		}

		identifier, err := s.files.Save(req.FilePath, data)
		if err != nil {
			if errors.Is(err, filestore.ErrInvalidName) {
				return errorResponse("Invalid file name")
			}
			errorLog.Printf("Session %d: file store failed for %q: %v", sess.ID, req.FilePath, err)
			return errorResponse("Failed to store file")
		}
		filePath = identifier
	}

	msg, err := s.db.SaveMessage(req.Sender, req.Receiver, req.Content, filePath, req.IsFile)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return errorResponse("User not found")
		}
		errorLog.Printf("SaveMessage %s -> %s failed: %v", req.Sender, req.Receiver, err)
		return errorResponse("Failed to send message")
	}

	s.notifyRecipient(msg)

	return successResponse("Message sent successfully")
}

// notifyRecipient pushes a new_message envelope to the receiver's live
// connection. Delivery is at-most-once and best-effort: an offline receiver
// or a failed write only costs the live ping, the message is already
// durable and replayed through get_messages.
func (s *Server) notifyRecipient(msg *database.Message) {
	target, ok := s.registry.Lookup(msg.Receiver)
	if !ok {
		return
	}

	notification := protocol.Notification{
		Action:   protocol.ActionNewMessage,
		Sender:   msg.Sender,
		Receiver: msg.Receiver,
		Content:  msg.Content,
		IsFile:   msg.IsFile,
		FilePath: msg.FilePath,
	}

	if err := target.Conn.WriteEnvelope(notification); err != nil {
		debugLog.Printf("Push to %s (session %d) dropped: %v", msg.Receiver, target.ID, err)
		s.metrics.RecordPushDropped()
		return
	}
	s.metrics.RecordPushDelivered()
}

func (s *Server) handleGetMessages(req *protocol.Request) protocol.Response {
	messages, err := s.db.MessagesBetween(req.User1, req.User2)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return errorResponse("User not found")
		}
		errorLog.Printf("MessagesBetween %s <-> %s failed: %v", req.User1, req.User2, err)
		return errorResponse("Failed to load messages")
	}

	records := make([]protocol.MessageRecord, len(messages))
	for i, msg := range messages {
		records[i] = messageRecord(msg)
	}
	return protocol.Response{
		Status:   protocol.StatusSuccess,
		Messages: records,
	}
}

func messageRecord(msg *database.Message) protocol.MessageRecord {
	return protocol.MessageRecord{
		Sender:    msg.Sender,
		Content:   msg.Content,
		IsFile:    msg.IsFile,
		FilePath:  msg.FilePath,
		Timestamp: time.UnixMilli(msg.CreatedAt).UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleGetFile(req *protocol.Request) protocol.Response {
	data, err := s.files.Retrieve(req.FilePath)
	if err != nil {
		if errors.Is(err, filestore.ErrFileNotFound) || errors.Is(err, filestore.ErrInvalidName) {
			return errorResponse("File not found")
		}
		errorLog.Printf("Retrieve %q failed: %v", req.FilePath, err)
		return errorResponse("Failed to read file")
	}

	return protocol.Response{
		Status:      protocol.StatusSuccess,
		FileContent: base64.StdEncoding.EncodeToString(data),
	}
}
