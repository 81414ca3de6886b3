// Package filter compiles admin filter expressions (github.com/antonmedv/expr) into predicates over entities.
// Expressions are compiled once and evaluated locally, they never reach the gateway.
package filter

import (
	"strings"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/types"
)

func compile(expression string, env interface{}) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	prog, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, types.NewValidationError("filter", err.Error())
	}
	return prog, nil
}

func run(prog *vm.Program, env interface{}) bool {
	if prog == nil {
		return true
	}
	res, err := expr.Run(prog, env)
	if err != nil {
		globals.AppLogger.Error("could not run filter", "error", err)
		return false
	}
	if bRes, ok := res.(bool); ok && bRes {
		return true
	}
	return false
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// Users compiles an expression over UserEnv, f.e. `Role == "admin" || Premium`.
func Users(expression string) (func(types.User) bool, error) {
	prog, err := compile(expression, UserEnv{})
	if err != nil {
		return nil, err
	}
	return func(u types.User) bool {
		return run(prog, UserEnv{
			User: User{
				Id:      u.Id,
				Email:   u.Email,
				Name:    u.DisplayName,
				Role:    u.Role,
				Premium: u.IsPremium,
				Created: unix(u.CreatedAt),
			},
			Helpers: helpers,
			Now:     time.Now().Unix(),
		})
	}, nil
}

// Posts compiles an expression over PostEnv, f.e. `Likes >= 3 && Contains(Title, "picnic")`.
func Posts(expression string) (func(types.ForumPost) bool, error) {
	prog, err := compile(expression, PostEnv{})
	if err != nil {
		return nil, err
	}
	return func(p types.ForumPost) bool {
		return run(prog, PostEnv{
			Post: Post{
				Id:       p.Id,
				Title:    p.Title,
				Content:  p.Content,
				Category: p.CategoryName,
				Author:   p.AuthorName,
				Likes:    p.LikesCount,
				Comments: p.CommentsCount,
				Created:  unix(p.CreatedAt),
				Updated:  unix(p.UpdatedAt),
			},
			Helpers: helpers,
			Now:     time.Now().Unix(),
		})
	}, nil
}

// Messages compiles an expression over MessageEnv, f.e. `!IsRead && Sender == "Alice"`.
func Messages(expression string) (func(types.ChatMessage) bool, error) {
	prog, err := compile(expression, MessageEnv{})
	if err != nil {
		return nil, err
	}
	return func(m types.ChatMessage) bool {
		reactions := 0
		for _, n := range m.Reactions {
			reactions += n
		}
		return run(prog, MessageEnv{
			Message: Message{
				Id:        m.Id,
				Content:   m.Content,
				Sender:    m.SenderName,
				Group:     m.GroupId,
				IsRead:    m.IsRead,
				IsReply:   m.ReplyTo != nil,
				Reactions: reactions,
				Created:   unix(m.CreatedAt),
			},
			Helpers: helpers,
			Now:     time.Now().Unix(),
		})
	}, nil
}

// Stats compiles an expression over StatEnv, f.e. `Metrics["premium_members"] > 10`.
func Stats(expression string) (func(types.StatRecord) bool, error) {
	prog, err := compile(expression, StatEnv{})
	if err != nil {
		return nil, err
	}
	return func(r types.StatRecord) bool {
		return run(prog, StatEnv{
			Stat: Stat{
				Kind:    r.Kind,
				Period:  r.Period,
				Metrics: r.Metrics,
				Created: unix(r.CreatedAt),
			},
			Helpers: helpers,
			Now:     time.Now().Unix(),
		})
	}, nil
}
