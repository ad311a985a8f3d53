package protocol

// Client-issued actions.
const (
	ActionRegister    = "register"
	ActionLogin       = "login"
	ActionAddContact  = "add_contact"
	ActionGetContacts = "get_contacts"
	ActionSendMessage = "send_message"
	ActionGetMessages = "get_messages"
	ActionGetFile     = "get_file"
)

// Server-initiated push actions.
const (
	ActionNewMessage     = "new_message"
	ActionServerShutdown = "server_shutdown"
)

// Response status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is the client→server envelope. One flat record covers every
// action; unused fields stay at their zero value and are omitted on the wire.
type Request struct {
	Action string `json:"action"`

	// register, login, add_contact, get_contacts
	Username        string `json:"username,omitempty"`
	Password        string `json:"password,omitempty"`
	ContactUsername string `json:"contact_username,omitempty"`

	// send_message
	Sender      string `json:"sender,omitempty"`
	Receiver    string `json:"receiver,omitempty"`
	Content     string `json:"content,omitempty"`
	IsFile      bool   `json:"is_file,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	FileContent string `json:"file_content,omitempty"` // base64

	// get_messages
	User1 string `json:"user1,omitempty"`
	User2 string `json:"user2,omitempty"`
}

// Response is the server→client reply envelope. Every response carries a
// status; error responses carry a message explaining the cause.
type Response struct {
	Status      string          `json:"status"`
	Message     string          `json:"message,omitempty"`
	Contacts    []string        `json:"contacts,omitempty"`
	Messages    []MessageRecord `json:"messages,omitempty"`
	FileContent string          `json:"file_content,omitempty"` // base64
}

// MessageRecord is one entry of a get_messages history reply.
type MessageRecord struct {
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	IsFile    bool   `json:"is_file"`
	FilePath  string `json:"file_path,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// Notification is an unsolicited server→client push. It is distinguished
// from responses by its action field; it is never correlated to a request.
type Notification struct {
	Action   string `json:"action"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Content  string `json:"content"`
	IsFile   bool   `json:"is_file"`
	FilePath string `json:"file_path,omitempty"`
}

// ShutdownNotice is pushed to every live session during graceful shutdown.
type ShutdownNotice struct {
	Action  string `json:"action"`
	Message string `json:"message,omitempty"`
}
