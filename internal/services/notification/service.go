// Package notification delivers user-facing messages about wallet
// activity. The current transport is the application log; delivery is
// best effort and callers never wait on it.
package notification

import (
	"context"
	"log"
)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Notify records a notification for the user. Errors are swallowed so
// a broken notification channel can never block a money movement.
func (s *Service) Notify(_ context.Context, userID uint, title, message string) {
	log.Printf("notification user=%d title=%q message=%q", userID, title, message)
}
