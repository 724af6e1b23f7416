// Chatcounter - Event-Driven Chat and Message Counter Aggregation
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/chatcounter

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Application owns chats. ChatsCount is maintained by the counter pipeline.
type Application struct {
	ID         int64     `json:"id"`
	Token      string    `json:"token"`
	Name       string    `json:"name"`
	ChatsCount int64     `json:"chats_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Chat belongs to an application through its token. MessagesCount is
// maintained by the counter pipeline.
type Chat struct {
	ID               int64     `json:"id"`
	ApplicationToken string    `json:"application_token"`
	Number           int64     `json:"number"`
	MessagesCount    int64     `json:"messages_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Message belongs to a chat.
type Message struct {
	ID        int64     `json:"id"`
	ChatID    int64     `json:"chat_id"`
	Number    int64     `json:"number"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateApplication inserts an application with a zero chat count.
// A reused token returns ErrDuplicateKey.
func (s *Store) CreateApplication(ctx context.Context, token, name string) (*Application, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("create application: token is required")
	}

	now := s.now()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO applications (token, name, chats_count, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)`,
		token, name, toMillis(now), toMillis(now),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("application %s: %w", token, ErrDuplicateKey)
		}
		return nil, unavailable("create application", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("create application", err)
	}
	return &Application{ID: id, Token: token, Name: name, CreatedAt: now, UpdatedAt: now}, nil
}

// CreateChat inserts a chat under applicationToken. The application must
// exist (ErrNotFound otherwise) and the number must be unused within it
// (ErrDuplicateKey otherwise). The application's chats_count is not touched.
func (s *Store) CreateChat(ctx context.Context, applicationToken string, number int64) (*Chat, error) {
	if number <= 0 {
		return nil, fmt.Errorf("create chat: number must be positive")
	}

	now := s.now()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO chats (application_token, number, messages_count, created_at, updated_at)
		 VALUES (?, ?, 0, ?, ?)`,
		applicationToken, number, toMillis(now), toMillis(now),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("application %s: %w", applicationToken, ErrNotFound)
		case isUniqueViolation(err):
			return nil, fmt.Errorf("chat %s/%d: %w", applicationToken, number, ErrDuplicateKey)
		}
		return nil, unavailable("create chat", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("create chat", err)
	}
	return &Chat{
		ID:               id,
		ApplicationToken: applicationToken,
		Number:           number,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// CreateMessage inserts a message under chatID. The chat's messages_count is not touched.
func (s *Store) CreateMessage(ctx context.Context, chatID, number int64, body string) (*Message, error) {
	if number <= 0 {
		return nil, fmt.Errorf("create message: number must be positive")
	}

	now := s.now()
	res, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO messages (chat_id, number, body, created_at) VALUES (?, ?, ?, ?)`,
		chatID, number, body, toMillis(now),
	)
	if err != nil {
		switch {
		case isForeignKeyViolation(err):
			return nil, fmt.Errorf("chat %d: %w", chatID, ErrNotFound)
		case isUniqueViolation(err):
			return nil, fmt.Errorf("message %d/%d: %w", chatID, number, ErrDuplicateKey)
		}
		return nil, unavailable("create message", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, unavailable("create message", err)
	}
	return &Message{ID: id, ChatID: chatID, Number: number, Body: body, CreatedAt: now}, nil
}

// GetApplication returns the application with the given token.
func (s *Store) GetApplication(ctx context.Context, token string) (*Application, error) {
	var (
		app                  Application
		createdAt, updatedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, token, name, chats_count, created_at, updated_at
		 FROM applications WHERE token = ?`, token,
	).Scan(&app.ID, &app.Token, &app.Name, &app.ChatsCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("application %s: %w", token, ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get application", err)
	}
	app.CreatedAt = fromMillis(createdAt)
	app.UpdatedAt = fromMillis(updatedAt)
	return &app, nil
}

// GetChat returns the chat with the given id.
func (s *Store) GetChat(ctx context.Context, id int64) (*Chat, error) {
	return s.scanChat(ctx, "id = ?", id)
}

// GetChatByNumber returns the chat with the given number within an application.
func (s *Store) GetChatByNumber(ctx context.Context, applicationToken string, number int64) (*Chat, error) {
	return s.scanChat(ctx, "application_token = ? AND number = ?", applicationToken, number)
}

func (s *Store) scanChat(ctx context.Context, where string, args ...any) (*Chat, error) {
	var (
		chat                 Chat
		createdAt, updatedAt int64
	)
	//nolint:gosec // where is one of the fixed predicates above
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT id, application_token, number, messages_count, created_at, updated_at
		 FROM chats WHERE `+where, args...,
	).Scan(&chat.ID, &chat.ApplicationToken, &chat.Number, &chat.MessagesCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chat: %w", ErrNotFound)
	}
	if err != nil {
		return nil, unavailable("get chat", err)
	}
	chat.CreatedAt = fromMillis(createdAt)
	chat.UpdatedAt = fromMillis(updatedAt)
	return &chat, nil
}
