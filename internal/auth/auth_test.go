package auth

import (
	"errors"
	"regexp"
	"sync"
	"testing"
)

func TestComputeHash_KnownVectors(t *testing.T) {
	cases := map[string]string{
		"":    "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"abc": "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad",
	}
	for in, want := range cases {
		if got := ComputeHash(in); got != want {
			t.Fatalf("ComputeHash(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestPassphrase_Disabled(t *testing.T) {
	p := NewPassphrase("")
	if p.Enabled() {
		t.Fatalf("expected empty passphrase to disable auth")
	}
	if err := p.Verify("anything"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("Verify err=%v, want %v", err, ErrAuthDisabled)
	}
	if err := p.VerifyResponse("c", "r"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("VerifyResponse err=%v, want %v", err, ErrAuthDisabled)
	}
}

func TestPassphrase_VerifyResponse(t *testing.T) {
	p := NewPassphrase("hunter2")
	const challenge = "00112233445566778899aabbccddeeff"

	good := ComputeHash(ComputeHash("hunter2") + challenge)
	if got := p.ExpectedResponse(challenge); got != good {
		t.Fatalf("ExpectedResponse=%q, want %q", got, good)
	}
	if err := p.VerifyResponse(challenge, good); err != nil {
		t.Fatalf("VerifyResponse(good): %v", err)
	}

	if err := p.VerifyResponse(challenge, ComputeHash(ComputeHash("wrong")+challenge)); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong passphrase err=%v", err)
	}
	// A response bound to a different challenge must not verify.
	if err := p.VerifyResponse("ffeeddccbbaa99887766554433221100", good); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("replayed response err=%v", err)
	}
	if err := p.VerifyResponse(challenge, ""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("empty response err=%v", err)
	}
}

func TestPassphrase_Verify(t *testing.T) {
	p := NewPassphrase("hunter2")
	if err := p.Verify("hunter2"); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if err := p.Verify("hunter3"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrInvalidCredentials)
	}
	if err := p.Verify(""); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err=%v, want %v", err, ErrMissingCredentials)
	}
}

var hex32 = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestChallengeStore_IssueOverwrites(t *testing.T) {
	s := NewChallengeStore()

	first, err := s.IssueAndStore("a")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}
	second, err := s.IssueAndStore("a")
	if err != nil {
		t.Fatalf("IssueAndStore: %v", err)
	}
	for _, c := range []string{first, second} {
		if !hex32.MatchString(c) {
			t.Fatalf("challenge %q is not 32 lowercase hex chars", c)
		}
	}
	if first == second {
		t.Fatalf("expected fresh challenge on reissue")
	}
	if got, ok := s.Get("a"); !ok || got != second {
		t.Fatalf("Get=%q,%v, want latest %q", got, ok, second)
	}
	s.Remove("a")
	if _, ok := s.Get("a"); ok {
		t.Fatalf("expected challenge to be removed")
	}
}

func TestChallengeStore_Concurrent(t *testing.T) {
	s := NewChallengeStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.IssueAndStore("shared"); err != nil {
				t.Errorf("IssueAndStore: %v", err)
			}
			s.Get("shared")
		}()
	}
	wg.Wait()
	if got, ok := s.Get("shared"); !ok || !hex32.MatchString(got) {
		t.Fatalf("Get=%q,%v, want one stored challenge", got, ok)
	}
}
