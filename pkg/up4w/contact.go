package up4w

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
)

// MnemonicWords is the length of a sign-in mnemonic.
const MnemonicWords = 28

// Profile is the public profile published on sign-in.
type Profile struct {
	Name           string `json:"name,omitempty"`
	Gender         int    `json:"gender,omitempty"`
	Geolocation    int    `json:"geolocation,omitempty"`
	GreetingSecret string `json:"greeting_secret,omitempty"`
}

// User is a contact added to the local address book.
type User struct {
	PK string `json:"pk"`
	Profile
}

type signIn struct {
	Seed     string   `json:"seed,omitempty"`
	Mnemonic string   `json:"mnemonic,omitempty"`
	Profile  *Profile `json:"profile"`
}

// Contact wraps the social.* methods.
type Contact struct {
	m *manager.Manager
}

// SignIn signs in with a seed or a mnemonic; one of them is required.
func (c *Contact) SignIn(ctx context.Context, seed, mnemonic string, profile *Profile) (json.RawMessage, error) {
	if seed == "" && mnemonic == "" {
		return nil, fmt.Errorf("%w: one of seed and mnemonic is required", errs.ErrInvalidInput)
	}
	if profile == nil {
		profile = &Profile{}
	}
	return call[json.RawMessage](ctx, c.m, "social.signin", signIn{Seed: seed, Mnemonic: mnemonic, Profile: profile})
}

func (c *Contact) SignInWithSeed(ctx context.Context, seed string, profile *Profile) (json.RawMessage, error) {
	return c.SignIn(ctx, seed, "", profile)
}

// SignInWithMnemonic rejects mnemonics that are not MnemonicWords words long.
func (c *Contact) SignInWithMnemonic(ctx context.Context, mnemonic string, profile *Profile) (json.RawMessage, error) {
	if n := len(strings.Fields(mnemonic)); n != MnemonicWords {
		return nil, fmt.Errorf("%w: mnemonic has %d words, want %d", errs.ErrInvalidInput, n, MnemonicWords)
	}
	return c.SignIn(ctx, "", mnemonic, profile)
}

func (c *Contact) AddUser(ctx context.Context, user User) error {
	if user.PK == "" {
		return fmt.Errorf("%w: user public key is required", errs.ErrInvalidInput)
	}
	return do(ctx, c.m, "social.add_user", user)
}

func (c *Contact) RemoveUser(ctx context.Context, pk string) error {
	if pk == "" {
		return fmt.Errorf("%w: user public key is required", errs.ErrInvalidInput)
	}
	return do(ctx, c.m, "social.remove_user", pk)
}
