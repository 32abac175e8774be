package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"bouncer/internal/classify"
	"bouncer/internal/credential"
	"bouncer/internal/logger"
	"bouncer/internal/model"
	"bouncer/internal/processor"
	"bouncer/internal/sched"
	"bouncer/internal/smtp"
	"bouncer/internal/store"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "scan":
		handleScan()
	case "watch":
		handleWatch()
	case "mailbox":
		handleMailbox()
	case "testmode":
		handleTestMode()
	case "smtp":
		handleSMTP()
	case "test-smtp":
		handleTestSMTP()
	case "bounces":
		handleBounces()
	case "log":
		handleLog()
	case "secret":
		handleSecret()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf(`bouncer - IMAP bounce detection and relay

Usage:
  bouncer <command> [options]

Commands:
  scan       Run one scan pass over a mailbox (or all mailboxes)
  watch      Scan all mailboxes periodically until interrupted
  mailbox    Manage monitored mailboxes (add, list, rm)
  testmode   Show or change test mode settings
  smtp       Show or change the notification SMTP relay
  test-smtp  Check relay connectivity, printing the protocol exchange
  bounces    List recent bounce records
  log        List recent activity log entries
  secret     Store or remove a keyring secret
  help       Show this help message

Examples:
  bouncer mailbox add --name support --host imap.example.com --username bounce@example.com --password -
  bouncer scan --mailbox 1
  bouncer watch --interval 2m
  bouncer testmode --enable --recipients qa@example.com
  bouncer secret set --key support-imap

Use 'bouncer <command> --help' for more information about a command.
`)
}

// app bundles what every command needs after startup.
type app struct {
	cfg *model.AppConfig
	st  *store.SQLiteStore
}

// openApp loads configuration, sets up logging, and opens the store.
func openApp(configPath string) (*app, error) {
	cfg, err := model.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logger.Setup(cfg.Logging)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory %s: %w", dir, err)
		}
	}

	st, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &app{cfg: cfg, st: st}, nil
}

func (a *app) close() {
	_ = a.st.Close()
}

func (a *app) newProcessor() *processor.Processor {
	return processor.New(processor.Deps{
		Directory:    a.st,
		Settings:     a.st,
		Bounces:      a.st,
		Activity:     a.st,
		Classifier:   classify.New(a.cfg.BouncePatterns, a.cfg.AutoReplyPatterns),
		MessageLimit: a.cfg.MessageLimit,
		LocalName:    a.cfg.LocalName,
		SendmailPath: a.cfg.SendmailPath,
	})
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", model.DefaultConfigPath(), "Path to configuration file")
}

func handleScan() {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := configFlag(fs)
	mailboxID := fs.Int64("mailbox", 0, "Mailbox id to scan")
	all := fs.Bool("all", false, "Scan every configured mailbox")
	fs.Parse(os.Args[2:])

	if *mailboxID == 0 && !*all {
		fatal(fmt.Errorf("either --mailbox or --all is required"))
	}

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	ctx := context.Background()
	proc := a.newProcessor()

	var ids []int64
	if *all {
		boxes, err := a.st.ListMailboxes(ctx)
		if err != nil {
			fatal(err)
		}
		for _, mb := range boxes {
			ids = append(ids, mb.ID)
		}
	} else {
		ids = []int64{*mailboxID}
	}

	failed := false
	for _, id := range ids {
		res := proc.Run(ctx, id)
		if res.Err != "" {
			fmt.Printf("mailbox %d: %s\n", id, res.Err)
			failed = true
			continue
		}
		fmt.Printf("mailbox %d: %d bounce(s) processed\n", id, res.Processed)
	}
	if failed {
		os.Exit(1)
	}
}

func handleWatch() {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := configFlag(fs)
	interval := fs.Duration("interval", 2*time.Minute, "Time between sweeps")
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := sched.New(a.newProcessor(), a.st, *interval, nil)
	runner.Start(ctx)
	fmt.Printf("watching mailboxes every %s, Ctrl-C to stop\n", *interval)

	<-ctx.Done()
	runner.Stop()
}

func handleMailbox() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: bouncer mailbox <add|list|rm> [options]")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "add":
		handleMailboxAdd()
	case "list":
		handleMailboxList()
	case "rm":
		handleMailboxRemove()
	default:
		fmt.Printf("Unknown mailbox command: %s\n", os.Args[2])
		os.Exit(1)
	}
}

func handleMailboxAdd() {
	fs := flag.NewFlagSet("mailbox add", flag.ExitOnError)
	configPath := configFlag(fs)
	name := fs.String("name", "", "Display name (required)")
	host := fs.String("host", "", "IMAP server host (required)")
	port := fs.Int("port", 993, "IMAP server port")
	username := fs.String("username", "", "IMAP account name (required)")
	password := fs.String("password", "", "Account password, or keyring:<key> reference (required)")
	security := fs.String("security", "", "ssl, tls, or none (default: inferred from port)")
	inbox := fs.String("inbox", "", "Folder to scan (default INBOX)")
	processed := fs.String("processed", "", "Folder for handled bounces (default Processed)")
	skipped := fs.String("skipped", "", "Folder for non-bounces (default Skipped)")
	fs.Parse(os.Args[3:])

	if *name == "" || *host == "" || *username == "" || *password == "" {
		fatal(fmt.Errorf("--name, --host, --username, and --password are required"))
	}

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	id, err := a.st.CreateMailbox(context.Background(), model.Mailbox{
		Name:            *name,
		Host:            *host,
		Port:            *port,
		Username:        *username,
		Secret:          *password,
		Security:        *security,
		InboxFolder:     *inbox,
		ProcessedFolder: *processed,
		SkippedFolder:   *skipped,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Printf("mailbox %d created\n", id)
}

func handleMailboxList() {
	fs := flag.NewFlagSet("mailbox list", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(os.Args[3:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	boxes, err := a.st.ListMailboxes(context.Background())
	if err != nil {
		fatal(err)
	}
	if len(boxes) == 0 {
		fmt.Println("no mailboxes configured")
		return
	}
	for _, mb := range boxes {
		fmt.Printf("%d\t%s\t%s@%s\t%s\t%s\n",
			mb.ID, mb.Name, mb.Username, mb.Addr(), mb.EffectiveSecurity(), mb.InboxFolder)
	}
}

func handleMailboxRemove() {
	fs := flag.NewFlagSet("mailbox rm", flag.ExitOnError)
	configPath := configFlag(fs)
	id := fs.Int64("id", 0, "Mailbox id (required)")
	fs.Parse(os.Args[3:])

	if *id == 0 {
		fatal(fmt.Errorf("--id is required"))
	}

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	if err := a.st.DeleteMailbox(context.Background(), *id); err != nil {
		fatal(err)
	}
	fmt.Printf("mailbox %d removed\n", *id)
}

func handleTestMode() {
	fs := flag.NewFlagSet("testmode", flag.ExitOnError)
	configPath := configFlag(fs)
	enable := fs.Bool("enable", false, "Turn test mode on")
	disable := fs.Bool("disable", false, "Turn test mode off")
	recipients := fs.String("recipients", "", "Comma-separated override recipients")
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	ctx := context.Background()
	settings, err := a.st.GetTestSettings(ctx)
	if err != nil {
		fatal(err)
	}

	if !*enable && !*disable && *recipients == "" {
		state := "disabled"
		if settings.Enabled {
			state = "enabled"
		}
		fmt.Printf("test mode: %s\nrecipients: %s\n", state, settings.Recipients)
		return
	}

	if *enable && *disable {
		fatal(fmt.Errorf("--enable and --disable are mutually exclusive"))
	}
	if *enable {
		settings.Enabled = true
	}
	if *disable {
		settings.Enabled = false
	}
	if *recipients != "" {
		settings.Recipients = *recipients
	}

	if err := a.st.SaveTestSettings(ctx, settings); err != nil {
		fatal(err)
	}
	fmt.Println("test mode settings saved")
}

func handleSMTP() {
	fs := flag.NewFlagSet("smtp", flag.ExitOnError)
	configPath := configFlag(fs)
	host := fs.String("host", "", "Relay host (empty clears the relay)")
	port := fs.Int("port", 587, "Relay port")
	username := fs.String("username", "", "Relay account name")
	password := fs.String("password", "", "Relay password, or keyring:<key> reference")
	security := fs.String("security", model.SecurityTLS, "ssl, tls, or none")
	fromEmail := fs.String("from-email", "", "Notification From address")
	fromName := fs.String("from-name", "", "Notification From display name")
	clear := fs.Bool("clear", false, "Remove the relay, reverting to sendmail")
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	ctx := context.Background()

	if *clear {
		if err := a.st.SaveSMTPSettings(ctx, model.SMTPRelaySettings{}); err != nil {
			fatal(err)
		}
		fmt.Println("relay cleared, sendmail will be used")
		return
	}

	if *host == "" {
		settings, err := a.st.GetSMTPSettings(ctx)
		if err != nil {
			fatal(err)
		}
		if !settings.Configured() {
			fmt.Println("no relay configured, sendmail will be used")
			return
		}
		fmt.Printf("relay: %s:%d (%s)\nusername: %s\nfrom: %s <%s>\n",
			settings.Host, settings.Port, settings.Security,
			settings.Username, settings.FromName, settings.FromEmail)
		return
	}

	err = a.st.SaveSMTPSettings(ctx, model.SMTPRelaySettings{
		Host:      *host,
		Port:      *port,
		Username:  *username,
		Password:  *password,
		Security:  *security,
		FromEmail: *fromEmail,
		FromName:  *fromName,
	})
	if err != nil {
		fatal(err)
	}
	fmt.Println("relay settings saved")
}

func handleTestSMTP() {
	fs := flag.NewFlagSet("test-smtp", flag.ExitOnError)
	configPath := configFlag(fs)
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	settings, err := a.st.GetSMTPSettings(context.Background())
	if err != nil {
		fatal(err)
	}
	if !settings.Configured() {
		fatal(fmt.Errorf("no relay configured; set one with 'bouncer smtp --host ...'"))
	}

	password, err := credential.Resolve(settings.Password)
	if err != nil {
		fatal(fmt.Errorf("resolving relay password: %w", err))
	}

	client := smtp.NewClient(smtp.Config{
		Host:      settings.Host,
		Port:      settings.Port,
		Security:  settings.Security,
		Username:  settings.Username,
		Password:  password,
		LocalName: a.cfg.LocalName,
	})
	client.SetTrace(func(dir, line string) {
		fmt.Printf("%s %s\n", dir, line)
	})

	if err := client.Check(); err != nil {
		fatal(err)
	}
	fmt.Println("relay check passed")
}

func handleBounces() {
	fs := flag.NewFlagSet("bounces", flag.ExitOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 20, "Maximum records to list")
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	recs, err := a.st.RecentBounces(context.Background(), *limit)
	if err != nil {
		fatal(err)
	}
	if len(recs) == 0 {
		fmt.Println("no bounce records")
		return
	}
	for _, rec := range recs {
		diag := rec.Code
		if text := classify.StatusText(rec.Code); text != "" {
			diag = fmt.Sprintf("%s (%s)", rec.Code, text)
		}
		fmt.Printf("%s\t%s\t%s\t%s\toriginal to: %s\n",
			rec.CreatedAt.Format(time.RFC3339), rec.Sender, rec.Subject, diag, rec.OrigTo)
		if rec.CcAddresses != "" {
			fmt.Printf("\tcc: %s\n", rec.CcAddresses)
		}
	}
}

func handleLog() {
	fs := flag.NewFlagSet("log", flag.ExitOnError)
	configPath := configFlag(fs)
	limit := fs.Int("limit", 50, "Maximum entries to list")
	fs.Parse(os.Args[2:])

	a, err := openApp(*configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close()

	events, err := a.st.RecentActivity(context.Background(), *limit)
	if err != nil {
		fatal(err)
	}
	for _, ev := range events {
		fmt.Printf("%s\t%s\t%s\n",
			ev.Timestamp.Format(time.RFC3339), ev.Action, ev.Details)
	}
}

func handleSecret() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: bouncer secret <set|rm> --key <name>")
		os.Exit(1)
	}

	switch os.Args[2] {
	case "set":
		fs := flag.NewFlagSet("secret set", flag.ExitOnError)
		key := fs.String("key", "", "Secret name (required)")
		value := fs.String("value", "", "Secret value; read from stdin if omitted")
		fs.Parse(os.Args[3:])

		if *key == "" {
			fatal(fmt.Errorf("--key is required"))
		}
		secret := *value
		if secret == "" {
			fmt.Print("Secret: ")
			var line string
			if _, err := fmt.Scanln(&line); err != nil {
				fatal(fmt.Errorf("reading secret: %w", err))
			}
			secret = strings.TrimSpace(line)
		}
		if err := credential.Set(*key, secret); err != nil {
			fatal(err)
		}
		fmt.Printf("stored; reference it as keyring:%s\n", *key)
	case "rm":
		fs := flag.NewFlagSet("secret rm", flag.ExitOnError)
		key := fs.String("key", "", "Secret name (required)")
		fs.Parse(os.Args[3:])

		if *key == "" {
			fatal(fmt.Errorf("--key is required"))
		}
		if err := credential.Delete(*key); err != nil {
			fatal(err)
		}
		fmt.Println("removed")
	default:
		fmt.Printf("Unknown secret command: %s\n", os.Args[2])
		os.Exit(1)
	}
}
