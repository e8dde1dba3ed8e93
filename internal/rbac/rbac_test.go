package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "reader read", role: RoleReader, action: ActionRead, allow: true},
		{name: "reader write", role: RoleReader, action: ActionWrite, allow: false},
		{name: "reader admin", role: RoleReader, action: ActionAdmin, allow: false},
		{name: "writer write", role: RoleWriter, action: ActionWrite, allow: true},
		{name: "writer admin", role: RoleWriter, action: ActionAdmin, allow: false},
		{name: "admin admin", role: RoleAdmin, action: ActionAdmin, allow: true},
		{name: "unknown read", role: Role("owner"), action: ActionRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestHigher(t *testing.T) {
	cases := []struct {
		a, b, want Role
	}{
		{a: RoleReader, b: RoleWriter, want: RoleWriter},
		{a: RoleAdmin, b: RoleWriter, want: RoleAdmin},
		{a: RoleWriter, b: RoleWriter, want: RoleWriter},
		{a: Role(""), b: RoleReader, want: RoleReader},
	}
	for _, tc := range cases {
		if got := Higher(tc.a, tc.b); got != tc.want {
			t.Fatalf("Higher(%q, %q) = %q, want %q", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("writer"); got != RoleWriter {
		t.Fatalf("Normalize(writer) = %q", got)
	}
	if got := Normalize("editor"); got != RoleReader {
		t.Fatalf("Normalize(editor) = %q, want reader fallback", got)
	}
}
