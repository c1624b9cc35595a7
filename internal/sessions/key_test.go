package sessions

import "testing"

func TestBuildSessionKey(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"dm",
			BuildSessionKey("default", "whatsapp", PeerDirect, "5511999990000"),
			"agent:default:whatsapp:direct:5511999990000",
		},
		{
			"group",
			BuildSessionKey("default", "whatsapp", PeerGroup, "group:120363"),
			"agent:default:whatsapp:group:group:120363",
		},
		{
			"queue entry",
			BuildQueueSessionKey("sales", "q-outreach", "01914f2a"),
			"agent:sales:queue:q-outreach:entry:01914f2a",
		},
		{
			"named",
			BuildNamedSessionKey("default", "support-inbox"),
			"agent:default:support-inbox",
		},
		{
			"main",
			BuildAgentMainSessionKey("default"),
			"agent:default:main",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestBuildScopedSessionKey(t *testing.T) {
	tests := []struct {
		name    string
		kind    PeerKind
		dmScope string
		want    string
	}{
		{"default scope", PeerDirect, "", "agent:a:whatsapp:direct:555"},
		{"per-channel-peer", PeerDirect, ScopePerChannelPeer, "agent:a:whatsapp:direct:555"},
		{"main collapses dms", PeerDirect, ScopeMain, "agent:a:main"},
		{"per-peer drops channel", PeerDirect, ScopePerPeer, "agent:a:direct:555"},
		{"per-account adds account", PeerDirect, ScopePerAccountChanPeer, "agent:a:whatsapp:acct:direct:555"},
		{"groups ignore dm scope", PeerGroup, ScopeMain, "agent:a:whatsapp:group:555"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildScopedSessionKey("a", "whatsapp", "acct", tt.kind, "555", tt.dmScope)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSessionKey(t *testing.T) {
	agent, rest := ParseSessionKey("agent:sales:queue:q1:entry:e1")
	if agent != "sales" || rest != "queue:q1:entry:e1" {
		t.Errorf("got (%q, %q)", agent, rest)
	}
	if a, r := ParseSessionKey("not-a-key"); a != "" || r != "" {
		t.Errorf("malformed key parsed: (%q, %q)", a, r)
	}
	if a, r := ParseSessionKey("session:x:y"); a != "" || r != "" {
		t.Errorf("wrong prefix parsed: (%q, %q)", a, r)
	}
}

func TestIsQueueSession(t *testing.T) {
	if !IsQueueSession("agent:sales:queue:q1:entry:e1") {
		t.Error("queue key not detected")
	}
	if IsQueueSession("agent:sales:whatsapp:direct:555") {
		t.Error("dm key misdetected as queue")
	}
}

func TestPeerKindFromGroup(t *testing.T) {
	if PeerKindFromGroup(true) != PeerGroup || PeerKindFromGroup(false) != PeerDirect {
		t.Error("wrong kind mapping")
	}
}
