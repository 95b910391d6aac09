package config

import "testing"

func TestCheckAdminToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		weak  bool
	}{
		{name: "empty disables auth", token: "", weak: false},
		{name: "common password", token: "password", weak: true},
		{name: "product name", token: "sdhr", weak: true},
		{name: "repeated", token: "aaaaaaaaaaaa", weak: true},
		{name: "sequence", token: "1234567890", weak: true},
		{name: "short mixed", token: "Ab1!", weak: true},
		{name: "long random hex", token: "a9f73d18e5249b6a35f7419d11c603e2", weak: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckAdminToken(tt.token, nil).Weak; got != tt.weak {
				t.Fatalf("CheckAdminToken(%q).Weak = %v, want %v", tt.token, got, tt.weak)
			}
		})
	}
}

func TestCheckAdminToken_InventoryIDsCount(t *testing.T) {
	token := "a9f73d18e5249b6a35f7419d11c603e2"
	alone := CheckAdminToken(token, nil)
	if alone.Weak || alone.Score < minAdminTokenScore || alone.CrackTime == "" {
		t.Fatalf("random token: %+v", alone)
	}

	inv := &Inventory{Controllers: []ControllerSpec{{ID: "A9F73D18E5249B6A35F7419D11C603E2"}}}
	reused := CheckAdminToken(token, inv)
	if !reused.Weak || reused.Score >= alone.Score {
		t.Fatalf("token equal to a controller id: %+v", reused)
	}
}
