package config

import (
	"strings"
	"testing"
)

func TestParseICEServersJSON(t *testing.T) {
	t.Parallel()

	raw := `[
	  {"urls": ["stun:stun.example.com:3478", " "]},
	  {"urls": "turn:turn.example.com:3478?transport=udp", "username": " user ", "credential": "pass"}
	]`

	servers, err := ParseICEServersJSON(raw)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if got := servers[0].URLs; len(got) != 1 || got[0] != "stun:stun.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", got)
	}
	if servers[0].Credential != nil {
		t.Fatalf("stun server should not carry a credential: %#v", servers[0].Credential)
	}
	if got := servers[1].Username; got != "user" {
		t.Fatalf("unexpected username: %q", got)
	}
	if cred, ok := servers[1].Credential.(string); !ok || cred != "pass" {
		t.Fatalf("unexpected credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersJSON_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":          `{`,
		"missing urls":      `[{"username":"u"}]`,
		"bad scheme":        `[{"urls":["http://example.com"]}]`,
		"turn without user": `[{"urls":["turn:turn.example.com"],"credential":"p"}]`,
		"turn without cred": `[{"urls":["turns:turn.example.com"],"username":"u"}]`,
	}
	for name, raw := range cases {
		if _, err := ParseICEServersJSON(raw); err == nil {
			t.Fatalf("%s: expected error for %s", name, raw)
		}
	}
}

func TestParseICEServersFromConvenienceEnv(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(
		"stun:a.example.com:3478, stun:b.example.com:3478,",
		"turn:turn.example.com:3478?transport=udp",
		"user",
		"pass",
	)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected 2 servers, got %d", len(servers))
	}
	if len(servers[0].URLs) != 2 || servers[0].URLs[1] != "stun:b.example.com:3478" {
		t.Fatalf("unexpected stun urls: %#v", servers[0].URLs)
	}
	if servers[0].Username != "" || servers[0].Credential != nil {
		t.Fatalf("stun server should not have creds: %#v", servers[0])
	}
	if servers[1].Username != "user" {
		t.Fatalf("unexpected turn username: %q", servers[1].Username)
	}
	if servers[1].Credential.(string) != "pass" {
		t.Fatalf("unexpected turn credential: %#v", servers[1].Credential)
	}
}

func TestParseICEServersFromConvenienceEnv_TURNNeedsCredentials(t *testing.T) {
	t.Parallel()

	_, err := ParseICEServersFromConvenienceEnv("", "turn:turn.example.com", "user", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), envTurnCredential) {
		t.Fatalf("error %q should name %s", err, envTurnCredential)
	}
}

func TestParseICEServersFromConvenienceEnv_Empty(t *testing.T) {
	t.Parallel()

	servers, err := ParseICEServersFromConvenienceEnv(" ", "", "", "")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("expected no servers, got %#v", servers)
	}
}

func TestICESources_JSONWinsOverConvenience(t *testing.T) {
	t.Parallel()

	servers, err := iceSources{
		serversJSON: `[{"urls":"stun:json.example.com"}]`,
		stunURLs:    "stun:env.example.com",
	}.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(servers) != 1 || servers[0].URLs[0] != "stun:json.example.com" {
		t.Fatalf("servers=%#v, want only the JSON entry", servers)
	}
}
