package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"smsrelay/internal/apperr"
	"smsrelay/internal/models"
)

const messageColumns = `id, resource_id, to_number, from_number, user_id, contact_id, conversation_id,
	body, media, num_segments, num_media, price, currency, status, direction, error_code, error_message,
	account_sid, messaging_service_sid, created_at, updated_at, scheduled_at, delivered_at`

const conversationColumns = `id, user_id, contact_id, name, status, created_at, updated_at`

var messageSortColumns = map[string]string{
	"":            "created_at",
	"createdAt":   "created_at",
	"updatedAt":   "updated_at",
	"status":      "status",
	"scheduledAt": "scheduled_at",
	"to":          "to_number",
}

var conversationSortColumns = map[string]string{
	"":          "updated_at",
	"updatedAt": "updated_at",
	"createdAt": "created_at",
	"name":      "name",
}

// SQLMessageStore implements MessageStore on sqlx.
type SQLMessageStore struct {
	db *sqlx.DB
}

func NewSQLMessageStore(db *sqlx.DB) *SQLMessageStore { return &SQLMessageStore{db: db} }

func (s *SQLMessageStore) Create(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`) VALUES (
		:id, :resource_id, :to_number, :from_number, :user_id, :contact_id, :conversation_id,
		:body, :media, :num_segments, :num_media, :price, :currency, :status, :direction, :error_code, :error_message,
		:account_sid, :messaging_service_sid, :created_at, :updated_at, :scheduled_at, :delivered_at)`, m)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindAlreadyExists, err, "message with resource id %s already exists", deref(m.ResourceID))
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLMessageStore) Update(ctx context.Context, m *models.Message) error {
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `UPDATE messages SET
		resource_id = :resource_id, from_number = :from_number, user_id = :user_id, contact_id = :contact_id,
		conversation_id = :conversation_id, body = :body, media = :media, num_segments = :num_segments,
		num_media = :num_media, price = :price, currency = :currency, status = :status, direction = :direction,
		error_code = :error_code, error_message = :error_message, account_sid = :account_sid,
		messaging_service_sid = :messaging_service_sid, updated_at = :updated_at,
		scheduled_at = :scheduled_at, delivered_at = :delivered_at
		WHERE id = :id`, m)
	if err != nil {
		return fmt.Errorf("update message %s: %w", m.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("message %s not found", m.ID)
	}
	return nil
}

func (s *SQLMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	return s.getOne(ctx, "message "+id, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
}

func (s *SQLMessageStore) GetByResourceID(ctx context.Context, resourceID string) (*models.Message, error) {
	return s.getOne(ctx, "message with resource id "+resourceID, `SELECT `+messageColumns+` FROM messages WHERE resource_id = ?`, resourceID)
}

func (s *SQLMessageStore) LatestOutboundTo(ctx context.Context, to string) (*models.Message, error) {
	return s.getOne(ctx, "outbound message to "+to,
		`SELECT `+messageColumns+` FROM messages WHERE to_number = ? AND direction = ? ORDER BY created_at DESC LIMIT 1`,
		to, models.DirectionOutbound)
}

func (s *SQLMessageStore) getOne(ctx context.Context, what, query string, args ...any) (*models.Message, error) {
	var m models.Message
	if err := s.db.GetContext(ctx, &m, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("%s not found", what)
		}
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	return &m, nil
}

func (s *SQLMessageStore) ListByStatuses(ctx context.Context, statuses []models.MessageStatus) ([]*models.Message, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT `+messageColumns+` FROM messages WHERE status IN (?) ORDER BY created_at ASC`, statuses)
	if err != nil {
		return nil, fmt.Errorf("build status query: %w", err)
	}
	var out []*models.Message
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("list messages by status: %w", err)
	}
	return out, nil
}

func (s *SQLMessageStore) List(ctx context.Context, filter MessageFilter, page Page) ([]*models.Message, int64, error) {
	page = page.Normalize()
	col, ok := messageSortColumns[page.SortBy]
	if !ok {
		return nil, 0, apperr.InvalidRequest("cannot sort messages by %q", page.SortBy)
	}

	var where []string
	var args []any
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.ContactID != "" {
		where = append(where, "contact_id = ?")
		args = append(args, filter.ContactID)
	}
	if filter.ConversationID != "" {
		where = append(where, "conversation_id = ?")
		args = append(args, filter.ConversationID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM messages`+clause), args...); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM messages%s ORDER BY %s %s LIMIT ? OFFSET ?`, messageColumns, clause, col, page.Order)
	args = append(args, page.Size, page.Offset())
	var out []*models.Message
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), args...); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	return out, total, nil
}

// SQLConversationStore implements ConversationStore on sqlx.
type SQLConversationStore struct {
	db *sqlx.DB
}

func NewSQLConversationStore(db *sqlx.DB) *SQLConversationStore {
	return &SQLConversationStore{db: db}
}

func (s *SQLConversationStore) Create(ctx context.Context, c *models.Conversation) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	if c.Status == "" {
		c.Status = models.ConversationOpen
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO conversations (`+conversationColumns+`)
		VALUES (:id, :user_id, :contact_id, :name, :status, :created_at, :updated_at)`, c)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(apperr.KindAlreadyExists, err, "conversation between user %s and contact %s already exists", c.UserID, c.ContactID)
		}
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (s *SQLConversationStore) Update(ctx context.Context, c *models.Conversation) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := s.db.NamedExecContext(ctx, `UPDATE conversations SET name = :name, status = :status, updated_at = :updated_at WHERE id = :id`, c)
	if err != nil {
		return fmt.Errorf("update conversation %s: %w", c.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("conversation %s not found", c.ID)
	}
	return nil
}

func (s *SQLConversationStore) Touch(ctx context.Context, id string, at time.Time) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE conversations SET updated_at = ? WHERE id = ?`), at.UTC(), id); err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	return nil
}

func (s *SQLConversationStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.getOne(ctx, "conversation "+id, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
}

func (s *SQLConversationStore) GetByPair(ctx context.Context, userID, contactID string) (*models.Conversation, error) {
	return s.getOne(ctx, fmt.Sprintf("conversation between user %s and contact %s", userID, contactID),
		`SELECT `+conversationColumns+` FROM conversations WHERE user_id = ? AND contact_id = ?`, userID, contactID)
}

func (s *SQLConversationStore) getOne(ctx context.Context, what, query string, args ...any) (*models.Conversation, error) {
	var c models.Conversation
	if err := s.db.GetContext(ctx, &c, s.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("%s not found", what)
		}
		return nil, fmt.Errorf("query %s: %w", what, err)
	}
	return &c, nil
}

func (s *SQLConversationStore) ListByUser(ctx context.Context, userID string, page Page) ([]*models.Conversation, int64, error) {
	page = page.Normalize()
	col, ok := conversationSortColumns[page.SortBy]
	if !ok {
		return nil, 0, apperr.InvalidRequest("cannot sort conversations by %q", page.SortBy)
	}

	var total int64
	if err := s.db.GetContext(ctx, &total, s.db.Rebind(`SELECT COUNT(*) FROM conversations WHERE user_id = ?`), userID); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM conversations WHERE user_id = ? ORDER BY %s %s LIMIT ? OFFSET ?`, conversationColumns, col, page.Order)
	var out []*models.Conversation
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(query), userID, page.Size, page.Offset()); err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	return out, total, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
