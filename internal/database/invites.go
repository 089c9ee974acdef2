package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Failed redemptions are rate-limited per tenant: at most
// inviteAttemptLimit failures per inviteAttemptWindow before the bot goes
// silent for that tenant.
const (
	inviteAttemptWindow = time.Hour
	inviteAttemptLimit  = 5
)

// ErrCodeInvalid covers every unusable code: unknown, used, revoked, or
// expired. Callers show one generic message so probing reveals nothing
// about which codes exist.
var ErrCodeInvalid = errors.New("database: invite code invalid")

// ErrCodeUsed guards revocation: a used code is part of a tenant's audit
// trail and cannot be revoked or deleted.
var ErrCodeUsed = errors.New("database: invite code already used")

type InviteCodeStore struct {
	fs *firestore.Client
}

func (s *InviteCodeStore) Create(ctx context.Context, code *InviteCode) error {
	_, err := s.fs.Collection(colInviteCodes).Doc(code.Code).Create(ctx, code)
	if err != nil {
		return fmt.Errorf("database: create invite code: %w", err)
	}
	return nil
}

func (s *InviteCodeStore) Get(ctx context.Context, code string) (*InviteCode, error) {
	ds, err := s.fs.Collection(colInviteCodes).Doc(code).Get(ctx)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("database: get invite code: %w", err)
	}
	var c InviteCode
	if err := ds.DataTo(&c); err != nil {
		return nil, fmt.Errorf("database: decode invite code: %w", err)
	}
	return &c, nil
}

// List returns every code, newest first.
func (s *InviteCodeStore) List(ctx context.Context) ([]*InviteCode, error) {
	iter := s.fs.Collection(colInviteCodes).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	var codes []*InviteCode
	for {
		ds, err := iter.Next()
		if err == iterator.Done {
			return codes, nil
		}
		if err != nil {
			return nil, fmt.Errorf("database: list invite codes: %w", err)
		}
		var c InviteCode
		if err := ds.DataTo(&c); err != nil {
			continue
		}
		codes = append(codes, &c)
	}
}

// Redeem validates the code and, when valid, marks it used and creates the
// tenant in the same transaction. An invalid code of any flavor returns
// ErrCodeInvalid.
func (s *InviteCodeStore) Redeem(ctx context.Context, code string, tenantID int64, title string) error {
	codeRef := s.fs.Collection(colInviteCodes).Doc(code)
	tenantRef := s.fs.Collection(colTenants).Doc(tenantDocID(tenantID))

	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ds, err := tx.Get(codeRef)
		if err != nil {
			if isNotFound(err) {
				return ErrCodeInvalid
			}
			return err
		}
		var c InviteCode
		if err := ds.DataTo(&c); err != nil {
			return fmt.Errorf("decode invite code: %w", err)
		}
		now := time.Now().UTC()
		if c.Used || c.Revoked || now.After(c.ExpiresAt) {
			return ErrCodeInvalid
		}

		if err := tx.Update(codeRef, []firestore.Update{
			{Path: "used", Value: true},
			{Path: "usedBy", Value: &CodeUsage{TenantID: tenantID, Title: title, At: now}},
		}); err != nil {
			return err
		}
		return tx.Set(tenantRef, &Tenant{
			TenantID:   tenantID,
			Title:      title,
			Status:     TenantActive,
			ApprovedAt: now,
			ApprovedBy: ApprovedBy{Method: ApprovalInviteCode, Code: code},
		})
	})
	if err != nil {
		if errors.Is(err, ErrCodeInvalid) {
			return ErrCodeInvalid
		}
		return fmt.Errorf("database: redeem invite code: %w", err)
	}
	return nil
}

// Revoke invalidates an unused code. Used codes return ErrCodeUsed.
func (s *InviteCodeStore) Revoke(ctx context.Context, code string) error {
	ref := s.fs.Collection(colInviteCodes).Doc(code)
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ds, err := tx.Get(ref)
		if err != nil {
			if isNotFound(err) {
				return ErrCodeInvalid
			}
			return err
		}
		var c InviteCode
		if err := ds.DataTo(&c); err != nil {
			return fmt.Errorf("decode invite code: %w", err)
		}
		if c.Used {
			return ErrCodeUsed
		}
		return tx.Update(ref, []firestore.Update{{Path: "revoked", Value: true}})
	})
	if err != nil {
		if errors.Is(err, ErrCodeInvalid) || errors.Is(err, ErrCodeUsed) {
			return err
		}
		return fmt.Errorf("database: revoke invite code: %w", err)
	}
	return nil
}

// RecordFailedAttempt bumps the tenant's failed-redemption counter and
// returns the count inside the current window. The window restarts when the
// previous one has lapsed.
func (s *InviteCodeStore) RecordFailedAttempt(ctx context.Context, tenantID int64) (int, error) {
	ref := s.fs.Collection(colInviteAttempts).Doc(tenantDocID(tenantID))

	var count int
	err := s.fs.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := time.Now().UTC()
		a := InviteAttempt{TenantID: tenantID, WindowStart: now}

		ds, err := tx.Get(ref)
		if err != nil && !isNotFound(err) {
			return err
		}
		if err == nil {
			if err := ds.DataTo(&a); err != nil {
				return fmt.Errorf("decode invite attempt: %w", err)
			}
			if now.Sub(a.WindowStart) > inviteAttemptWindow {
				a.Count = 0
				a.WindowStart = now
			}
		}
		a.Count++
		count = a.Count
		return tx.Set(ref, &a)
	})
	if err != nil {
		return 0, fmt.Errorf("database: record invite attempt: %w", err)
	}
	return count, nil
}

// Suppressed reports whether the tenant has exceeded the failed-attempt
// threshold and should get no further response.
func Suppressed(attempts int) bool {
	return attempts > inviteAttemptLimit
}
