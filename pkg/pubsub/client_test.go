package pubsub

import "testing"

func TestResourceNames(t *testing.T) {
	c := &Client{projectID: "proj"}

	cases := []struct {
		name string
		got  string
		want string
	}{
		{"subscription id", c.subscriptionResourceName(" notifications "), "projects/proj/subscriptions/notifications"},
		{"subscription full", c.subscriptionResourceName("projects/other/subscriptions/x"), "projects/other/subscriptions/x"},
		{"topic id", c.topicResourceName("order-events"), "projects/proj/topics/order-events"},
		{"topic full", c.topicResourceName("projects/other/topics/y"), "projects/other/topics/y"},
		{"empty", c.topicResourceName("  "), ""},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, tc.got)
		}
	}
}

func TestResourceNameWithoutProject(t *testing.T) {
	c := &Client{}
	if got := c.topicResourceName("order-events"); got != "" {
		t.Fatalf("expected empty name without project, got %q", got)
	}
	var nilClient *Client
	if got := nilClient.subscriptionResourceName("x"); got != "" {
		t.Fatalf("expected empty name for nil client, got %q", got)
	}
}

func TestTrimmedNamesDropsBlanks(t *testing.T) {
	got := trimmedNames([]string{" a ", "", "  ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected names %v", got)
	}
}
