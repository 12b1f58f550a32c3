package tenant

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/joho/godotenv"
)

func TestValidateID(t *testing.T) {
	valid := []string{"acme", "tenant_1", "TENANT-2", "a", "0123456789"}
	for _, id := range valid {
		if err := ValidateID(id); err != nil {
			t.Errorf("ValidateID(%q) = %v, want nil", id, err)
		}
	}

	invalid := []string{
		"",
		"public; DROP TABLE stocks",
		"has space",
		"semi;colon",
		"quote'",
		`double"quote`,
		"comma,",
		"dot.schema",
	}
	for _, id := range invalid {
		if err := ValidateID(id); !errors.Is(err, ErrInvalidTenantID) {
			t.Errorf("ValidateID(%q) = %v, want ErrInvalidTenantID", id, err)
		}
	}
}

func TestProviderRejectsInvalidTenant(t *testing.T) {
	provider, err := NewProvider("postgres://localhost:5432/app")
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer provider.Shutdown()

	// Validation runs before any connection attempt, so no database is needed.
	if _, err := provider.Get(context.Background(), "bad tenant"); !errors.Is(err, ErrInvalidTenantID) {
		t.Errorf("Get with invalid tenant: got %v, want ErrInvalidTenantID", err)
	}
}

func TestNewProviderBadConnString(t *testing.T) {
	if _, err := NewProvider("not a conn string ://"); err == nil {
		t.Error("Expected error for malformed connection string")
	}
}

func TestProviderPoolReuse(t *testing.T) {
	_ = godotenv.Load("../../.env")
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test")
	}

	provider, err := NewProvider(dbURL)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	defer provider.Shutdown()

	ctx := context.Background()
	first, err := provider.Get(ctx, "public")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	second, err := provider.Get(ctx, "public")
	if err != nil {
		t.Fatalf("Second Get failed: %v", err)
	}
	if first != second {
		t.Error("Repeated Get for the same tenant must reuse the cached pool")
	}

	var searchPath string
	if err := first.QueryRow(ctx, "SHOW search_path").Scan(&searchPath); err != nil {
		t.Fatalf("SHOW search_path failed: %v", err)
	}
	if searchPath != `"public"` && searchPath != "public" {
		t.Errorf("Pool should be pinned to the tenant schema, got %q", searchPath)
	}
}
