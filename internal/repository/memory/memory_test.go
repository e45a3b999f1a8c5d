package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
)

func testUser(id, email, username, phone string) *models.User {
	return &models.User{
		ID:           id,
		Email:        email,
		Username:     username,
		PhoneNumber:  phone,
		PasswordHash: "$2a$10$hash",
		Profile:      models.CustomerProfile{},
		IsActive:     true,
		AuthMethod:   models.AuthMethodEmail,
	}
}

func TestCreateUserConflicts(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	if err := repo.CreateUser(ctx, testUser("1", "a@x.com", "alice", "+2348000000001")); err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name  string
		user  *models.User
		field string
	}{
		{"email case-insensitive", testUser("2", "A@X.com", "bob", "+2348000000002"), "email"},
		{"username", testUser("3", "b@x.com", "Alice", "+2348000000003"), "username"},
		{"phone", testUser("4", "c@x.com", "carol", "+2348000000001"), "phone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := repo.CreateUser(ctx, tt.user)
			var conflict *repository.ConflictError
			if !errors.As(err, &conflict) || conflict.Field != tt.field {
				t.Fatalf("expected conflict on %s, got %v", tt.field, err)
			}
			if !errors.Is(err, repository.ErrConflict) {
				t.Fatal("expected ConflictError to match ErrConflict")
			}
		})
	}
	if repo.Len() != 1 {
		t.Fatalf("expected 1 user, got %d", repo.Len())
	}
}

func TestConcurrentCreateSingleWinner(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := testUser(string(rune('a'+i)), "same@x.com", "user"+string(rune('a'+i)), "")
			errs <- repo.CreateUser(ctx, u)
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
		} else if !errors.Is(err, repository.ErrConflict) {
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one winner, got %d", ok)
	}
}

func TestConsumeOTPSingleUse(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = repo.CreateUser(ctx, testUser("1", "a@x.com", "alice", "+2348000000001"))

	code := &models.OTPCode{Code: "1234", ExpiresAt: now.Add(5 * time.Minute)}
	if err := repo.SetOTP(ctx, "1", models.PurposePhoneVerification, code); err != nil {
		t.Fatalf("set otp: %v", err)
	}

	if err := repo.ConsumeOTP(ctx, "1", models.PurposePhoneVerification, "1234", now); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := repo.ConsumeOTP(ctx, "1", models.PurposePhoneVerification, "1234", now); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected ErrConditionFailed on reuse, got %v", err)
	}

	u, _ := repo.GetUserByID(ctx, "1")
	if !u.IsNumberVerified || u.PhoneOTP != nil {
		t.Fatalf("expected verified user with cleared code, got %+v", u)
	}
}

func TestConsumeOTPPurposeIsolation(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	now := time.Now()
	_ = repo.CreateUser(ctx, testUser("1", "a@x.com", "alice", ""))
	_ = repo.SetOTP(ctx, "1", models.PurposePasswordReset, &models.OTPCode{Code: "4321", ExpiresAt: now.Add(time.Minute)})

	if err := repo.ConsumeOTP(ctx, "1", models.PurposePhoneVerification, "4321", now); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected reset code to be rejected for phone verification, got %v", err)
	}
	if err := repo.ConsumeOTP(ctx, "1", models.PurposePasswordReset, "4321", now); err != nil {
		t.Fatalf("consume reset: %v", err)
	}
	u, _ := repo.GetUserByID(ctx, "1")
	if u.IsNumberVerified {
		t.Fatal("reset code must not verify the phone number")
	}
}

func TestReturnedUsersAreCopies(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()
	_ = repo.CreateUser(ctx, testUser("1", "a@x.com", "alice", ""))

	u, _ := repo.GetUserByID(ctx, "1")
	u.IsActive = false

	again, _ := repo.GetUserByID(ctx, "1")
	if !again.IsActive {
		t.Fatal("mutating a returned user leaked into the store")
	}
}

func TestInvitationTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewInvitationRepository()
	now := time.Now()

	inv := &models.AdminInvitation{
		ID: "i1", Email: "admin@x.com", AdminType: models.AdminTypeStore, Token: "tok",
		Status: models.InvitationPending, ExpiresAt: now.Add(time.Hour), CreatedAt: now,
	}
	if err := repo.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := *inv
	dup.ID, dup.Token = "i2", "tok2"
	if err := repo.CreateInvitation(ctx, &dup); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected pending email conflict, got %v", err)
	}

	if err := repo.TransitionInvitation(ctx, "i1", models.InvitationPending, models.InvitationAccepted, now); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := repo.TransitionInvitation(ctx, "i1", models.InvitationPending, models.InvitationCancelled, now); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected second transition to fail, got %v", err)
	}
	if err := repo.TransitionInvitation(ctx, "i1", models.InvitationAccepted, models.InvitationPending, now); !errors.Is(err, repository.ErrConditionFailed) {
		t.Fatalf("expected transition back to pending to fail, got %v", err)
	}

	if err := repo.CreateInvitation(ctx, &dup); err != nil {
		t.Fatalf("expected new invitation once the old one left pending, got %v", err)
	}
}
