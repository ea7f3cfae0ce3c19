package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}

var ErrInvalidProfile = errors.New("invalid profile")

type Profile struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Role         Role      `json:"role"`
	SecretNumber string    `json:"secret_number,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (p Profile) Key() string { return p.ID }

// Authenticable reports whether the profile may sign in. Members need a
// secret number; inactive profiles never sign in.
func (p Profile) Authenticable() bool {
	if !p.Active {
		return false
	}
	if p.Role == RoleMember {
		return strings.TrimSpace(p.SecretNumber) != ""
	}
	return p.Role == RoleAdmin
}

func (p Profile) Identity() Identity {
	return Identity{ID: p.ID, Name: p.Name, Role: p.Role}
}

type ProfileInput struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	SecretNumber string `json:"secret_number,omitempty"`
	// PasswordHash is only set for admin sign-up.
	PasswordHash string `json:"-"`
}

func (in ProfileInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidProfile)
	}
	if !in.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidProfile, in.Role)
	}
	if in.Role == RoleMember && strings.TrimSpace(in.SecretNumber) == "" {
		return fmt.Errorf("%w: members need a secret number", ErrInvalidProfile)
	}
	return nil
}

func (in ProfileInput) Profile(id string, now time.Time) Profile {
	return Profile{
		ID:           id,
		Name:         in.Name,
		Email:        in.Email,
		Role:         in.Role,
		SecretNumber: in.SecretNumber,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type ProfilePatch struct {
	Name         *string `json:"name,omitempty"`
	Email        *string `json:"email,omitempty"`
	SecretNumber *string `json:"secret_number,omitempty"`
	Active       *bool   `json:"active,omitempty"`
}

func (p ProfilePatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.SecretNumber == nil && p.Active == nil
}

func (p ProfilePatch) Apply(pr Profile) Profile {
	if p.Name != nil {
		pr.Name = *p.Name
	}
	if p.Email != nil {
		pr.Email = *p.Email
	}
	if p.SecretNumber != nil {
		pr.SecretNumber = *p.SecretNumber
	}
	if p.Active != nil {
		pr.Active = *p.Active
	}
	return pr
}

func (p ProfilePatch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name cannot be blank", ErrInvalidProfile)
	}
	return nil
}
