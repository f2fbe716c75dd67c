package mail

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/richardanaya/agent-office/internal/graph"
)

// pageSize bounds each search page while scanning all mail or agents.
const pageSize = 500

// Service manages agents, mailboxes and mail on top of a graph backend.
type Service struct {
	backend graph.Backend
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithClock sets the time source used for relative queries like RecentMail.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a mail service over backend.
func NewService(backend graph.Backend, opts ...Option) *Service {
	s := &Service{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "mail")
	return s
}

// CreateAgent registers an agent and gives it an Inbox.
func (s *Service) CreateAgent(ctx context.Context, name string) (*Agent, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	agent := &Agent{Name: name, NodeID: AgentNodeID(name), Status: StatusOffline}
	node := agent.toNode()
	if err := s.backend.CreateNode(ctx, node); err != nil {
		if graph.IsAlreadyExists(err) {
			return nil, fmt.Errorf("%w: %s", ErrAgentExists, name)
		}
		return nil, fmt.Errorf("create agent %s: %w", name, err)
	}
	agent.CreatedAt, agent.UpdatedAt = node.CreatedAt, node.UpdatedAt

	if _, err := s.createMailbox(ctx, agent, InboxName); err != nil {
		return nil, err
	}
	s.logger.Debug("created agent", "agent", name)
	return agent, nil
}

// GetAgent returns the agent called name.
func (s *Service) GetAgent(ctx context.Context, name string) (*Agent, error) {
	node, err := s.backend.GetNode(ctx, AgentNodeID(name))
	if err != nil {
		if graph.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
		}
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	agent, ok := agentFromNode(node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return agent, nil
}

// ListAgents returns every agent, oldest first.
func (s *Service) ListAgents(ctx context.Context) ([]*Agent, error) {
	agents := []*Agent{}
	q := graph.SearchQuery{
		NodeTypes: []string{AgentType},
		OrderBy:   graph.OrderByCreatedAt,
		Direction: graph.Asc,
	}
	err := s.scan(ctx, q, func(node *graph.Node) {
		if agent, ok := agentFromNode(node); ok {
			agents = append(agents, agent)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// SetAgentStatus stores a free-form status such as "online" or "busy".
func (s *Service) SetAgentStatus(ctx context.Context, name, status string) (*Agent, error) {
	agent, err := s.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	agent.Status = status

	node := agent.toNode()
	node.Touch()
	if err := s.backend.UpdateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("set status of %s: %w", name, err)
	}
	agent.UpdatedAt = node.UpdatedAt
	return agent, nil
}

// CreateMailbox gives an existing agent another mailbox.
func (s *Service) CreateMailbox(ctx context.Context, owner, name string) (*Mailbox, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	agent, err := s.GetAgent(ctx, owner)
	if err != nil {
		return nil, err
	}
	return s.createMailbox(ctx, agent, name)
}

func (s *Service) createMailbox(ctx context.Context, owner *Agent, name string) (*Mailbox, error) {
	mailbox := &Mailbox{ID: uuid.New(), Owner: owner.Name, Name: name}
	node := mailbox.toNode()
	if err := s.backend.CreateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("create mailbox %s for %s: %w", name, owner.Name, err)
	}
	mailbox.CreatedAt = node.CreatedAt

	if err := s.backend.CreateEdge(ctx, graph.NewEdge(EdgeOwns, owner.NodeID, mailbox.ID, nil)); err != nil {
		return nil, fmt.Errorf("link mailbox %s to %s: %w", name, owner.Name, err)
	}
	return mailbox, nil
}

// GetMailbox returns the mailbox with id.
func (s *Service) GetMailbox(ctx context.Context, id uuid.UUID) (*Mailbox, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		if graph.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrMailboxNotFound, id)
		}
		return nil, fmt.Errorf("get mailbox %s: %w", id, err)
	}
	mailbox, ok := mailboxFromNode(node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMailboxNotFound, id)
	}
	return mailbox, nil
}

// ListAgentMailboxes returns the mailboxes an agent owns, oldest first, so
// the Inbox made with the agent leads.
func (s *Service) ListAgentMailboxes(ctx context.Context, name string) ([]*Mailbox, error) {
	agent, err := s.GetAgent(ctx, name)
	if err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNeighbors(ctx, agent.NodeID, EdgeOwns, graph.Outgoing)
	if err != nil {
		return nil, fmt.Errorf("mailboxes of %s: %w", name, err)
	}
	mailboxes := []*Mailbox{}
	for _, node := range nodes {
		if mailbox, ok := mailboxFromNode(node); ok {
			mailboxes = append(mailboxes, mailbox)
		}
	}
	slices.SortFunc(mailboxes, func(a, b *Mailbox) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Name, b.Name))
	})
	return mailboxes, nil
}

// MailboxOwner returns the agent owning a mailbox.
func (s *Service) MailboxOwner(ctx context.Context, id uuid.UUID) (*Agent, error) {
	mailbox, err := s.GetMailbox(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, mailbox.Owner)
}

// DeleteMailbox removes a mailbox and its edges. Mail already delivered
// keeps its node.
func (s *Service) DeleteMailbox(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetMailbox(ctx, id); err != nil {
		return err
	}
	if err := s.backend.DeleteNode(ctx, id); err != nil {
		return fmt.Errorf("delete mailbox %s: %w", id, err)
	}
	return nil
}

// AgentInbox returns the agent's mailbox named Inbox.
func (s *Service) AgentInbox(ctx context.Context, name string) (*Mailbox, error) {
	mailboxes, err := s.ListAgentMailboxes(ctx, name)
	if err != nil {
		return nil, err
	}
	for _, m := range mailboxes {
		if m.Name == InboxName {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s has no %s", ErrMailboxNotFound, name, InboxName)
}

// AgentOutbox returns the mailbox an agent sends from: its Outbox if it has
// one, otherwise its oldest mailbox.
func (s *Service) AgentOutbox(ctx context.Context, name string) (*Mailbox, error) {
	mailboxes, err := s.ListAgentMailboxes(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(mailboxes) == 0 {
		return nil, fmt.Errorf("%w: %s has no mailboxes", ErrMailboxNotFound, name)
	}
	for _, m := range mailboxes {
		if m.Name == OutboxName {
			return m, nil
		}
	}
	return mailboxes[0], nil
}

// SendMail delivers a new unread message from one mailbox to another.
func (s *Service) SendMail(ctx context.Context, from, to uuid.UUID, subject, body string) (*Mail, error) {
	if _, err := s.GetMailbox(ctx, from); err != nil {
		return nil, err
	}
	if _, err := s.GetMailbox(ctx, to); err != nil {
		return nil, err
	}

	m := &Mail{ID: uuid.New(), From: from, To: to, Subject: subject, Body: body}
	node := m.toNode()
	if err := s.backend.CreateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("create mail: %w", err)
	}
	m.CreatedAt, m.UpdatedAt = node.CreatedAt, node.UpdatedAt

	if err := s.backend.CreateEdge(ctx, graph.NewEdge(EdgeSentFrom, from, m.ID, nil)); err != nil {
		return nil, fmt.Errorf("link mail %s to sender: %w", m.ID, err)
	}
	if err := s.backend.CreateEdge(ctx, graph.NewEdge(EdgeSentTo, m.ID, to, nil)); err != nil {
		return nil, fmt.Errorf("link mail %s to recipient: %w", m.ID, err)
	}

	s.logger.Debug("sent mail", "mail", m.ID.String(), "from", from.String(), "to", to.String())
	return m, nil
}

// SendToAgent delivers to the recipient's Inbox.
func (s *Service) SendToAgent(ctx context.Context, from uuid.UUID, to, subject, body string) (*Mail, error) {
	inbox, err := s.AgentInbox(ctx, to)
	if err != nil {
		return nil, err
	}
	return s.SendMail(ctx, from, inbox.ID, subject, body)
}

// SendAgentToAgent sends from the sender's outbox to the recipient's Inbox.
func (s *Service) SendAgentToAgent(ctx context.Context, from, to, subject, body string) (*Mail, error) {
	outbox, err := s.AgentOutbox(ctx, from)
	if err != nil {
		return nil, err
	}
	return s.SendToAgent(ctx, outbox.ID, to, subject, body)
}

// GetMail returns the message with id.
func (s *Service) GetMail(ctx context.Context, id uuid.UUID) (*Mail, error) {
	node, err := s.backend.GetNode(ctx, id)
	if err != nil {
		if graph.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrMailNotFound, id)
		}
		return nil, fmt.Errorf("get mail %s: %w", id, err)
	}
	m, ok := mailFromNode(node)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMailNotFound, id)
	}
	return m, nil
}

// Inbox returns the mail delivered to a mailbox, newest first.
func (s *Service) Inbox(ctx context.Context, mailbox uuid.UUID) ([]*Mail, error) {
	return s.mailboxMail(ctx, mailbox, EdgeSentTo, graph.Incoming)
}

// Outbox returns the mail sent from a mailbox, newest first.
func (s *Service) Outbox(ctx context.Context, mailbox uuid.UUID) ([]*Mail, error) {
	return s.mailboxMail(ctx, mailbox, EdgeSentFrom, graph.Outgoing)
}

func (s *Service) mailboxMail(ctx context.Context, mailbox uuid.UUID, edgeType string, dir graph.Direction) ([]*Mail, error) {
	if _, err := s.GetMailbox(ctx, mailbox); err != nil {
		return nil, err
	}
	nodes, err := s.backend.GetNeighbors(ctx, mailbox, edgeType, dir)
	if err != nil {
		return nil, fmt.Errorf("mail of %s: %w", mailbox, err)
	}
	mails := mailFromNodes(nodes)
	sortNewestFirst(mails)
	return mails, nil
}

// MarkAsRead flags a message as read. Marking it again is a no-op.
func (s *Service) MarkAsRead(ctx context.Context, id uuid.UUID) (*Mail, error) {
	m, err := s.GetMail(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Read {
		return m, nil
	}
	m.Read = true

	node := m.toNode()
	node.Touch()
	if err := s.backend.UpdateNode(ctx, node); err != nil {
		return nil, fmt.Errorf("mark mail %s read: %w", id, err)
	}
	m.UpdatedAt = node.UpdatedAt
	return m, nil
}

// DeleteMail removes a message and its delivery edges.
func (s *Service) DeleteMail(ctx context.Context, id uuid.UUID) error {
	if _, err := s.GetMail(ctx, id); err != nil {
		return err
	}
	if err := s.backend.DeleteNode(ctx, id); err != nil {
		return fmt.Errorf("delete mail %s: %w", id, err)
	}
	return nil
}

// CheckUnread returns the unread mail across every mailbox of an agent,
// newest first. The agent has unread mail when the result is not empty.
func (s *Service) CheckUnread(ctx context.Context, name string) ([]*Mail, error) {
	mailboxes, err := s.ListAgentMailboxes(ctx, name)
	if err != nil {
		return nil, err
	}
	unread := []*Mail{}
	for _, mailbox := range mailboxes {
		inbox, err := s.Inbox(ctx, mailbox.ID)
		if err != nil {
			return nil, err
		}
		for _, m := range inbox {
			if !m.Read {
				unread = append(unread, m)
			}
		}
	}
	sortNewestFirst(unread)
	return unread, nil
}

// Query filters SearchMail. Zero fields are unset.
type Query struct {
	// Text matches anywhere in the stored message, ignoring case.
	Text string
	// Agent keeps mail sent from or to one of the agent's mailboxes.
	Agent string
	// Created time bounds, inclusive.
	After  time.Time
	Before time.Time

	Limit  int
	Offset int
}

// SearchMail returns one page of matching mail, newest first.
func (s *Service) SearchMail(ctx context.Context, q Query) (*graph.SearchResults[*Mail], error) {
	gq := graph.SearchQuery{
		NodeTypes:     []string{MailType},
		Text:          q.Text,
		CreatedAfter:  q.After,
		CreatedBefore: q.Before,
		OrderBy:       graph.OrderByCreatedAt,
		Direction:     graph.Desc,
		Limit:         q.Limit,
		Offset:        q.Offset,
	}
	if gq.Limit <= 0 {
		gq.Limit = graph.DefaultSearchLimit
	}
	if gq.Offset < 0 {
		gq.Offset = 0
	}

	if q.Agent == "" {
		page, err := s.backend.Search(ctx, gq)
		if err != nil {
			return nil, fmt.Errorf("search mail: %w", err)
		}
		items := mailFromNodes(page.Items)
		return &graph.SearchResults[*Mail]{
			Items:         items,
			TotalCount:    page.TotalCount,
			ReturnedCount: len(items),
			HasMore:       page.HasMore,
			Limit:         page.Limit,
			Offset:        page.Offset,
		}, nil
	}

	// Mailbox membership is not a property filter, so scan and page here.
	mailboxes, err := s.ListAgentMailboxes(ctx, q.Agent)
	if err != nil {
		return nil, err
	}
	owned := make(map[uuid.UUID]bool, len(mailboxes))
	for _, m := range mailboxes {
		owned[m.ID] = true
	}

	limit, offset := gq.Limit, gq.Offset
	gq.Offset = 0
	matched := []*Mail{}
	err = s.scan(ctx, gq, func(node *graph.Node) {
		if m, ok := mailFromNode(node); ok && (owned[m.From] || owned[m.To]) {
			matched = append(matched, m)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("search mail: %w", err)
	}

	start := min(offset, len(matched))
	end := min(start+limit, len(matched))
	items := matched[start:end]
	return &graph.SearchResults[*Mail]{
		Items:         items,
		TotalCount:    len(matched),
		ReturnedCount: len(items),
		HasMore:       end < len(matched),
		Limit:         limit,
		Offset:        offset,
	}, nil
}

// RecentMail returns up to limit messages created within the last window,
// newest first.
func (s *Service) RecentMail(ctx context.Context, window time.Duration, limit int) ([]*Mail, error) {
	page, err := s.SearchMail(ctx, Query{After: s.now().Add(-window), Limit: limit})
	if err != nil {
		return nil, err
	}
	return page.Items, nil
}

// scan feeds every node matching q to fn, one page at a time, in q's order.
func (s *Service) scan(ctx context.Context, q graph.SearchQuery, fn func(*graph.Node)) error {
	q.Limit = pageSize
	for {
		page, err := s.backend.Search(ctx, q)
		if err != nil {
			return err
		}
		for _, node := range page.Items {
			fn(node)
		}
		if !page.HasMore {
			return nil
		}
		q.Offset += q.Limit
	}
}

func sortNewestFirst(mails []*Mail) {
	slices.SortStableFunc(mails, func(a, b *Mail) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}
