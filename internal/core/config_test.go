package core

import "testing"

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{}
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.Name = "testdb"
	cfg.Database.Username = "testuser"
	cfg.Database.Password = "testpassword"
	cfg.Database.SSLMode = "disable"

	url := cfg.DatabaseURL()
	expected := "host=localhost port=5432 dbname=testdb user=testuser password=testpassword sslmode=disable"
	if url != expected {
		t.Errorf("DatabaseURL() want = %s, got = %s", expected, url)
	}
}

func TestConfig_BindAddress(t *testing.T) {
	cfg := &Config{Hostname: "127.0.0.1", Port: 8080}

	addr := cfg.BindAddress()
	expected := "127.0.0.1:8080"
	if addr != expected {
		t.Errorf("BindAddress() want = %s, got = %s", expected, addr)
	}
}
