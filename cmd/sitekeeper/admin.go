package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/Strob0t/SiteKeeper/internal/adapter/postgres"
	"github.com/Strob0t/SiteKeeper/internal/config"
	"github.com/Strob0t/SiteKeeper/internal/domain/ledger"
	"github.com/Strob0t/SiteKeeper/internal/domain/tenant"
	"github.com/Strob0t/SiteKeeper/internal/domain/user"
	"github.com/Strob0t/SiteKeeper/internal/service"
	"github.com/Strob0t/SiteKeeper/internal/tenantctx"
	"github.com/Strob0t/SiteKeeper/internal/tenantfilter"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "create-admin":
		return runAdminCreateAdmin(args[1:])
	case "create-tenant":
		return runAdminCreateTenant(args[1:])
	case "list-tenants":
		return runAdminListTenants(args[1:])
	case "create-user":
		return runAdminCreateUser(args[1:])
	case "recharge":
		return runAdminRecharge(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: sitekeeper admin <command> [options]

Commands:
  create-admin     Create an admin API key
  create-tenant    Create a new tenant (site)
  list-tenants     List active tenants
  create-user      Create a user inside a tenant
  recharge         Credit a user's balance
  help             Show this help message

Examples:
  sitekeeper admin create-admin --name ops
  sitekeeper admin create-tenant --name Shop --domain shop.example.com
  sitekeeper admin create-user --tenant 5 --email a@shop.example.com --name Alice
  sitekeeper admin recharge --tenant 5 --user 9 --amount 100 --remark promo
`)
}

type adminDeps struct {
	store *postgres.Store
	auth  *service.AuthService
	jobs  *service.JobService
}

func loadAdminDeps(ctx context.Context) (*adminDeps, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	store := postgres.NewStore(pool, tenantfilter.New(tenantfilter.DefaultExempt, tenantfilter.WithStrictInserts()))
	deps := &adminDeps{
		store: store,
		auth:  service.NewAuthService(store, nil),
		jobs:  service.NewJobService(store, nil, nil, nil),
	}
	return deps, pool.Close, nil
}

func runAdminCreateAdmin(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	name := fs.String("name", "", "admin name (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	a, key, err := deps.auth.CreateAdmin(ctx, user.CreateAdminRequest{Name: *name})
	if err != nil {
		return fmt.Errorf("create admin: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Admin created: %s (id=%d, prefix=%s)\n", a.Name, a.ID, a.Prefix)
	fmt.Fprintln(os.Stderr, "Store this key now; it cannot be shown again.")
	fmt.Println(key)
	return nil
}

func runAdminCreateTenant(args []string) error {
	fs := flag.NewFlagSet("create-tenant", flag.ContinueOnError)
	name := fs.String("name", "", "tenant display name (required)")
	domain := fs.String("domain", "", "host name requests for this tenant arrive on")
	code := fs.String("code", "", "short code")
	if err := fs.Parse(args); err != nil {
		return err
	}

	req := tenant.CreateRequest{Name: *name, Domain: *domain, Code: *code}
	if err := req.Validate(); err != nil {
		return err
	}
	req.Domain = tenant.NormalizeHost(req.Domain)
	req.Code = tenant.NormalizeCode(req.Code)

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := deps.store.CreateTenant(ctx, req)
	if err != nil {
		return fmt.Errorf("create tenant: %w", err)
	}

	// Running servers pick the tenant up on their next directory refresh.
	fmt.Fprintf(os.Stderr, "Tenant created: %s (id=%d, domain=%s)\n", t.Name, t.ID, t.Domain)
	return nil
}

func runAdminListTenants(args []string) error {
	fs := flag.NewFlagSet("list-tenants", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	tenants, err := deps.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	if len(tenants) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tDOMAIN\tCODE\tENABLED")
	for i := range tenants {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n",
			tenants[i].ID, tenants[i].Name, tenants[i].Domain, tenants[i].Code, tenants[i].Enabled)
	}
	return w.Flush()
}

func runAdminCreateUser(args []string) error {
	fs := flag.NewFlagSet("create-user", flag.ContinueOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id (required)")
	email := fs.String("email", "", "user email address (required)")
	name := fs.String("name", "", "user display name (required)")
	password := fs.String("password", "", "password (prompted if not provided)") //nolint:gosec // CLI flag
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tenantID <= 0 {
		return errors.New("--tenant is required")
	}
	if *email == "" {
		return errors.New("--email is required")
	}
	if *name == "" {
		return errors.New("--name is required")
	}

	pass := *password
	if pass == "" {
		var err error
		pass, err = promptPassword("Password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return errors.New("passwords do not match")
		}
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var u *user.User
	err = tenantctx.Scope(ctx, *tenantID, func(ctx context.Context) error {
		var err error
		u, err = deps.auth.Register(ctx, user.CreateRequest{
			TenantID: tenantID,
			Email:    *email,
			Name:     *name,
			Password: pass,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	fmt.Fprintf(os.Stderr, "User created: %s (id=%d, tenant=%d)\n", u.Email, u.ID, u.TenantID)
	return nil
}

func runAdminRecharge(args []string) error {
	fs := flag.NewFlagSet("recharge", flag.ContinueOnError)
	tenantID := fs.Int64("tenant", 0, "tenant id (required)")
	userID := fs.Int64("user", 0, "user id (required)")
	amount := fs.Int64("amount", 0, "credits to add (required)")
	remark := fs.String("remark", "", "ledger remark")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *tenantID <= 0 || *userID <= 0 {
		return errors.New("--tenant and --user are required")
	}

	ctx := context.Background()
	deps, cleanup, err := loadAdminDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var entry *ledger.Entry
	err = tenantctx.Scope(ctx, *tenantID, func(ctx context.Context) error {
		var err error
		entry, err = deps.jobs.Recharge(ctx, *userID, *amount, *remark)
		return err
	})
	if err != nil {
		return fmt.Errorf("recharge: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Recharged user %d by %d (balance=%d, trade_no=%s)\n",
		entry.UserID, entry.Amount, entry.BalanceAfter, entry.TradeNo)
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after password input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
