// Command rooflinectl is an operator CLI for the Roofline API.
//
// Connection settings come from flags or the environment:
//
//	ROOFLINE_URL      server base URL (default http://localhost:8080)
//	ROOFLINE_API_KEY  raw API key or operator admin key
//
// Usage:
//
//	rooflinectl health
//	rooflinectl score <org-id>
//	rooflinectl recalculate <org-id>
//	rooflinectl audits [-status S] [-limit N] [-offset N]
//	rooflinectl create-audit -type T -date YYYY-MM-DD
//	rooflinectl complete-audit <audit-id> -rating R -summary TEXT
//	rooflinectl capas [-status S]
//	rooflinectl capa-status <capa-id> <status>
//	rooflinectl keys
//	rooflinectl create-key -label L [-org ORG-ID]
//	rooflinectl revoke-key <key-id>
//	rooflinectl changelog [-limit N]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/rooflinehq/roofline/sdk/go/roofline"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "rooflinectl:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: rooflinectl <command> [args] (see -h)")
	}
	cmd, rest := args[0], args[1:]

	client, err := newClient()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch cmd {
	case "health":
		return cmdHealth(ctx, client)
	case "score":
		return cmdScore(ctx, client, rest, false)
	case "recalculate":
		return cmdScore(ctx, client, rest, true)
	case "audits":
		return cmdAudits(ctx, client, rest)
	case "create-audit":
		return cmdCreateAudit(ctx, client, rest)
	case "complete-audit":
		return cmdCompleteAudit(ctx, client, rest)
	case "capas":
		return cmdCAPAs(ctx, client, rest)
	case "capa-status":
		return cmdCAPAStatus(ctx, client, rest)
	case "keys":
		return cmdKeys(ctx, client)
	case "create-key":
		return cmdCreateKey(ctx, client, rest)
	case "revoke-key":
		return cmdRevokeKey(ctx, client, rest)
	case "changelog":
		return cmdChangeLog(ctx, client, rest)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newClient() (*roofline.Client, error) {
	baseURL := os.Getenv("ROOFLINE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	apiKey := os.Getenv("ROOFLINE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("ROOFLINE_API_KEY is not set")
	}
	return roofline.NewClient(roofline.Config{BaseURL: baseURL, APIKey: apiKey})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUUIDArg(args []string, name string) (uuid.UUID, error) {
	if len(args) < 1 {
		return uuid.Nil, fmt.Errorf("%s is required", name)
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", name, args[0], err)
	}
	return id, nil
}

func cmdHealth(ctx context.Context, client *roofline.Client) error {
	health, err := client.Health(ctx)
	if err != nil {
		return err
	}
	return printJSON(health)
}

func cmdScore(ctx context.Context, client *roofline.Client, args []string, persist bool) error {
	orgID, err := parseUUIDArg(args, "org-id")
	if err != nil {
		return err
	}
	var result *roofline.ComplianceResult
	if persist {
		result, err = client.RecalculateCompliance(ctx, orgID)
	} else {
		result, err = client.GetCompliance(ctx, orgID)
	}
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdAudits(ctx context.Context, client *roofline.Client, args []string) error {
	fs := flag.NewFlagSet("audits", flag.ExitOnError)
	status := fs.String("status", "", "filter by audit status")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := client.ListAudits(ctx, &roofline.ListAuditOptions{
		Status: roofline.AuditStatus(*status),
		Limit:  *limit,
		Offset: *offset,
	})
	if err != nil {
		return err
	}
	return printJSON(resp)
}

func cmdCreateAudit(ctx context.Context, client *roofline.Client, args []string) error {
	fs := flag.NewFlagSet("create-audit", flag.ExitOnError)
	auditType := fs.String("type", "ANNUAL", "audit type")
	date := fs.String("date", "", "scheduled date (YYYY-MM-DD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *date == "" {
		return fmt.Errorf("-date is required")
	}
	scheduled, err := time.Parse("2006-01-02", *date)
	if err != nil {
		return fmt.Errorf("invalid -date %q: %w", *date, err)
	}

	audit, err := client.CreateAudit(ctx, roofline.CreateAuditRequest{
		Type:          roofline.AuditType(*auditType),
		ScheduledDate: scheduled,
	})
	if err != nil {
		return err
	}
	return printJSON(audit)
}

func cmdCompleteAudit(ctx context.Context, client *roofline.Client, args []string) error {
	auditID, err := parseUUIDArg(args, "audit-id")
	if err != nil {
		return err
	}
	fs := flag.NewFlagSet("complete-audit", flag.ExitOnError)
	rating := fs.String("rating", "", "overall rating")
	summary := fs.String("summary", "", "audit summary")
	noCAPAs := fs.Bool("no-capas", false, "skip corrective action creation")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *rating == "" || *summary == "" {
		return fmt.Errorf("-rating and -summary are required")
	}

	req := roofline.CompleteAuditRequest{
		Rating:  roofline.AuditRating(*rating),
		Summary: *summary,
	}
	if *noCAPAs {
		f := false
		req.CreateCAPAs = &f
	}

	result, err := client.CompleteAudit(ctx, auditID, req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdCAPAs(ctx context.Context, client *roofline.Client, args []string) error {
	fs := flag.NewFlagSet("capas", flag.ExitOnError)
	status := fs.String("status", "", "filter by CAPA status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	capas, err := client.ListCAPAs(ctx, roofline.CAPAStatus(*status))
	if err != nil {
		return err
	}
	return printJSON(capas)
}

func cmdCAPAStatus(ctx context.Context, client *roofline.Client, args []string) error {
	capaID, err := parseUUIDArg(args, "capa-id")
	if err != nil {
		return err
	}
	if len(args) < 2 {
		return fmt.Errorf("status is required (IN_PROGRESS, PENDING_VERIFICATION, CLOSED)")
	}

	capa, err := client.UpdateCAPAStatus(ctx, capaID, roofline.CAPAStatus(args[1]))
	if err != nil {
		return err
	}
	return printJSON(capa)
}

func cmdKeys(ctx context.Context, client *roofline.Client) error {
	keys, err := client.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	return printJSON(keys)
}

func cmdCreateKey(ctx context.Context, client *roofline.Client, args []string) error {
	fs := flag.NewFlagSet("create-key", flag.ExitOnError)
	label := fs.String("label", "", "key label")
	org := fs.String("org", "", "organization ID (admin key only)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *label == "" {
		return fmt.Errorf("-label is required")
	}

	var orgID *uuid.UUID
	if *org != "" {
		id, err := uuid.Parse(*org)
		if err != nil {
			return fmt.Errorf("invalid -org %q: %w", *org, err)
		}
		orgID = &id
	}

	resp, err := client.CreateAPIKey(ctx, *label, orgID)
	if err != nil {
		return err
	}
	// The raw key is shown exactly once; the server stores only a hash.
	return printJSON(resp)
}

func cmdRevokeKey(ctx context.Context, client *roofline.Client, args []string) error {
	keyID, err := parseUUIDArg(args, "key-id")
	if err != nil {
		return err
	}
	if err := client.RevokeAPIKey(ctx, keyID); err != nil {
		return err
	}
	fmt.Println("revoked", keyID)
	return nil
}

func cmdChangeLog(ctx context.Context, client *roofline.Client, args []string) error {
	fs := flag.NewFlagSet("changelog", flag.ExitOnError)
	limit := fs.Int("limit", 50, "number of entries")
	if err := fs.Parse(args); err != nil {
		return err
	}

	entries, err := client.ChangeLog(ctx, *limit)
	if err != nil {
		return err
	}
	return printJSON(entries)
}
