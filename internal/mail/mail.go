// Package mail delivers messages between agents. Agents, their mailboxes
// and every message are graph nodes; ownership and delivery are edges.
package mail

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/richardanaya/agent-office/internal/graph"
)

// Node and edge types written by the mail service.
const (
	AgentType   = "agent"
	MailboxType = "mailbox"
	MailType    = "mail"

	// EdgeOwns runs agent -> mailbox.
	EdgeOwns = "owns"
	// EdgeSentFrom runs sending mailbox -> mail.
	EdgeSentFrom = "sent_from"
	// EdgeSentTo runs mail -> receiving mailbox.
	EdgeSentTo = "sent_to"
)

// Mailbox names with a meaning to the service.
const (
	InboxName  = "Inbox"
	OutboxName = "Outbox"
)

// StatusOffline is the status of a newly created agent.
const StatusOffline = "offline"

var (
	ErrAgentNotFound   = errors.New("agent not found")
	ErrAgentExists     = errors.New("agent already exists")
	ErrMailboxNotFound = errors.New("mailbox not found")
	ErrMailNotFound    = errors.New("mail not found")
	ErrInvalidName     = errors.New("invalid name")
)

// Agent is a participant that owns mailboxes. Its node ID is derived from
// its name, so the name is also its key.
type Agent struct {
	Name      string    `json:"name"`
	NodeID    uuid.UUID `json:"node_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AgentNodeID returns the node ID of the agent called name.
func AgentNodeID(name string) uuid.UUID {
	return graph.DeriveID(name)
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	return nil
}

func (a *Agent) toNode() *graph.Node {
	node := graph.NewNodeWithID(a.NodeID, AgentType, graph.Properties{
		"name":   graph.String(a.Name),
		"status": graph.String(a.Status),
	})
	if !a.CreatedAt.IsZero() {
		node.CreatedAt = a.CreatedAt
		node.UpdatedAt = a.UpdatedAt
	}
	return node
}

func agentFromNode(node *graph.Node) (*Agent, bool) {
	if node == nil || node.Type != AgentType {
		return nil, false
	}
	name := node.Properties.GetString("name")
	if name == "" {
		return nil, false
	}
	status := node.Properties.GetString("status")
	if status == "" {
		status = StatusOffline
	}
	return &Agent{
		Name:      name,
		NodeID:    node.ID,
		Status:    status,
		CreatedAt: node.CreatedAt,
		UpdatedAt: node.UpdatedAt,
	}, true
}

// Mailbox holds mail for one agent.
type Mailbox struct {
	ID        uuid.UUID `json:"id"`
	Owner     string    `json:"owner"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (m *Mailbox) toNode() *graph.Node {
	return graph.NewNodeWithID(m.ID, MailboxType, graph.Properties{
		"owner": graph.String(m.Owner),
		"name":  graph.String(m.Name),
	})
}

func mailboxFromNode(node *graph.Node) (*Mailbox, bool) {
	if node == nil || node.Type != MailboxType {
		return nil, false
	}
	name := node.Properties.GetString("name")
	if name == "" {
		return nil, false
	}
	return &Mailbox{
		ID:        node.ID,
		Owner:     node.Properties.GetString("owner"),
		Name:      name,
		CreatedAt: node.CreatedAt,
	}, true
}

// Mail is one message from a mailbox to another.
type Mail struct {
	ID        uuid.UUID `json:"id"`
	From      uuid.UUID `json:"from_mailbox_id"`
	To        uuid.UUID `json:"to_mailbox_id"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (m *Mail) toNode() *graph.Node {
	node := graph.NewNodeWithID(m.ID, MailType, graph.Properties{
		"from_mailbox_id": graph.String(m.From.String()),
		"to_mailbox_id":   graph.String(m.To.String()),
		"subject":         graph.String(m.Subject),
		"body":            graph.String(m.Body),
		"read":            graph.Bool(m.Read),
	})
	if !m.CreatedAt.IsZero() {
		node.CreatedAt = m.CreatedAt
		node.UpdatedAt = m.UpdatedAt
	}
	return node
}

// mailFromNode reads a message back. A missing read flag means unread.
func mailFromNode(node *graph.Node) (*Mail, bool) {
	if node == nil || node.Type != MailType {
		return nil, false
	}
	from, err := uuid.Parse(node.Properties.GetString("from_mailbox_id"))
	if err != nil {
		return nil, false
	}
	to, err := uuid.Parse(node.Properties.GetString("to_mailbox_id"))
	if err != nil {
		return nil, false
	}
	subject, ok := stringProperty(node.Properties, "subject")
	if !ok {
		return nil, false
	}
	body, ok := stringProperty(node.Properties, "body")
	if !ok {
		return nil, false
	}
	readValue, _ := node.Properties.Get("read")
	read, _ := readValue.AsBool()
	return &Mail{
		ID:        node.ID,
		From:      from,
		To:        to,
		Subject:   subject,
		Body:      body,
		Read:      read,
		CreatedAt: node.CreatedAt,
		UpdatedAt: node.UpdatedAt,
	}, true
}

func stringProperty(props graph.Properties, key string) (string, bool) {
	v, ok := props.Get(key)
	if !ok {
		return "", false
	}
	return v.AsString()
}

func mailFromNodes(nodes []*graph.Node) []*Mail {
	out := make([]*Mail, 0, len(nodes))
	for _, node := range nodes {
		if m, ok := mailFromNode(node); ok {
			out = append(out, m)
		}
	}
	return out
}
