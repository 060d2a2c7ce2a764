package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/term"
	"youth-mis/internal/app"
	"youth-mis/internal/data"
	"youth-mis/internal/model"
	"youth-mis/internal/realtime"
	"youth-mis/internal/rolegate"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	app *app.App
	out io.Writer
	// stdin is the descriptor passwords are read from.
	stdin int
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  signup -email EMAIL [-name NAME] [-role student|trainer|staff] - create an account, password prompted")
	fmt.Fprintln(cli.out, "  signin -email EMAIL                 - sign in, password prompted")
	fmt.Fprintln(cli.out, "  signout                             - end the session")
	fmt.Fprintln(cli.out, "  whoami                              - show the session, profile and view")
	fmt.Fprintln(cli.out, "  retry-profile                       - try resolving the profile once more")
	fmt.Fprintln(cli.out, "  dashboard                           - show the aggregates of your view")
	fmt.Fprintln(cli.out, "  list -table T [-eq col=val] [-order col] [-desc] [-limit N] [-join table:col]")
	fmt.Fprintln(cli.out, "  get -table T -id ID")
	fmt.Fprintln(cli.out, "  create -table T -data JSON")
	fmt.Fprintln(cli.out, "  update -table T -id ID -data JSON")
	fmt.Fprintln(cli.out, "  delete -table T -id ID")
	fmt.Fprintln(cli.out, "  notifications [-read ID]            - list yours, or mark one read")
	fmt.Fprintln(cli.out, "  invoke -name FUNCTION [-data JSON]  - call a backend function")
	fmt.Fprintln(cli.out, "  watch [-for DURATION]               - print realtime changes")
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "signup":
		return cli.signUp(ctx, args[2:])
	case "signin":
		return cli.signIn(ctx, args[2:])
	case "signout":
		return cli.app.Session.SignOut(ctx)
	case "whoami":
		return cli.whoami()
	case "retry-profile":
		view, err := cli.app.Router.Retry(ctx)
		fmt.Fprintf(cli.out, "view: %s\n", view)
		return err
	case "dashboard":
		return cli.dashboard(ctx)
	case "list":
		return cli.list(ctx, args[2:])
	case "get", "delete":
		return cli.byID(ctx, args[1], args[2:])
	case "create":
		return cli.create(ctx, args[2:])
	case "update":
		return cli.update(ctx, args[2:])
	case "notifications":
		return cli.notifications(ctx, args[2:])
	case "invoke":
		return cli.invoke(ctx, args[2:])
	case "watch":
		return cli.watch(ctx, args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(cli.stdin)
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) signUp(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("signup")
	email := fs.String("email", "", "The account's email address.")
	name := fs.String("name", "", "Display name. Defaults to the email's local part.")
	role := fs.String("role", string(model.RoleStudent), "Requested role.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}
	pwd, err := cli.promptPassword()
	if err != nil {
		return err
	}
	if pwd == "" {
		fs.Usage()
		return errHelp
	}
	if err := cli.app.Session.SignUp(ctx, *email, pwd, *name, model.Role(*role)); err != nil {
		return err
	}
	return cli.whoami()
}

func (cli *commandLine) signIn(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("signin")
	email := fs.String("email", "", "The account's email address. The password will be prompted next.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" {
		fs.Usage()
		return errHelp
	}
	pwd, err := cli.promptPassword()
	if err != nil {
		return err
	}
	if pwd == "" {
		fs.Usage()
		return errHelp
	}
	if err := cli.app.Session.SignIn(ctx, *email, pwd); err != nil {
		return err
	}
	return cli.whoami()
}

func (cli *commandLine) whoami() error {
	st := cli.app.Session.Snapshot()
	view := rolegate.SelectView(st.Session, st.Profile)
	if st.Session == nil {
		fmt.Fprintln(cli.out, "not signed in")
		return nil
	}
	fmt.Fprintf(cli.out, "user:    %s (%s)\n", st.Session.Identity.Email, st.Session.Identity.ID)
	fmt.Fprintf(cli.out, "expires: %s\n", st.Session.ExpiresAt.Format(time.RFC3339))
	if st.Profile != nil {
		fmt.Fprintf(cli.out, "profile: %s, role %s\n", st.Profile.DisplayName, st.Profile.Role)
	} else if st.ProfileErr != nil {
		fmt.Fprintf(cli.out, "profile: unavailable (%v)\n", st.ProfileErr)
	}
	fmt.Fprintf(cli.out, "view:    %s\n", view)
	return nil
}

func (cli *commandLine) dashboard(ctx context.Context) error {
	view, stats, err := cli.app.Dashboard(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "view: %s\n", view)
	switch view {
	case rolegate.ViewUnauthenticated:
		fmt.Fprintln(cli.out, "sign in to see the dashboard")
		return nil
	case rolegate.ViewProfilePending:
		fmt.Fprintln(cli.out, "profile not resolved yet; run retry-profile")
		return nil
	}
	for _, f := range rolegate.VisibleStats(view) {
		if v, ok := stats.Get(f); ok {
			fmt.Fprintf(cli.out, "  %-16s %s\n", f, strconv.FormatFloat(v, 'f', -1, 64))
		}
	}
	return nil
}

// eqFlags collects repeated -eq col=val flags.
type eqFlags map[string]any

func (e eqFlags) String() string {
	parts := make([]string, 0, len(e))
	for k, v := range e {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (e eqFlags) Set(s string) error {
	col, val, ok := strings.Cut(s, "=")
	if !ok || col == "" {
		return fmt.Errorf("expected col=val, got %q", s)
	}
	e[col] = val
	return nil
}

type joinFlags []model.Join

func (j *joinFlags) String() string {
	parts := make([]string, len(*j))
	for i, x := range *j {
		parts[i] = x.Table + ":" + x.On
	}
	return strings.Join(parts, ",")
}

func (j *joinFlags) Set(s string) error {
	table, on, ok := strings.Cut(s, ":")
	if !ok || table == "" || on == "" {
		return fmt.Errorf("expected table:col, got %q", s)
	}
	*j = append(*j, model.Join{Table: table, On: on})
	return nil
}

func (cli *commandLine) table(name string) (data.TableOps, error) {
	ops, ok := cli.app.Data.Table(name)
	if !ok {
		return nil, fmt.Errorf("unknown table %q (one of %s)", name, strings.Join(model.Tables(), ", "))
	}
	return ops, nil
}

func (cli *commandLine) list(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("list")
	table := fs.String("table", "", "Table to read.")
	eq := eqFlags{}
	fs.Var(eq, "eq", "Equality filter col=val. Repeatable.")
	var joins joinFlags
	fs.Var(&joins, "join", "Embed the row of table whose id is in col, as table:col. Repeatable.")
	order := fs.String("order", "", "Column to order by.")
	desc := fs.Bool("desc", false, "Descending order.")
	limit := fs.Int("limit", 0, "Maximum rows.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *table == "" {
		fs.Usage()
		return errHelp
	}
	ops, err := cli.table(*table)
	if err != nil {
		return err
	}
	f := data.Filter{Order: *order, Desc: *desc, Limit: *limit, Joins: joins}
	if len(eq) > 0 {
		f.Eq = eq
	}
	rows, err := ops.List(ctx, f)
	if err != nil {
		return err
	}
	return cli.print(rows)
}

func (cli *commandLine) byID(ctx context.Context, verb string, args []string) error {
	fs := cli.newFlagSet(verb)
	table := fs.String("table", "", "Table of the row.")
	id := fs.String("id", "", "Row id.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *table == "" || *id == "" {
		fs.Usage()
		return errHelp
	}
	ops, err := cli.table(*table)
	if err != nil {
		return err
	}
	if verb == "delete" {
		if err := ops.Delete(ctx, *id); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "deleted %s/%s\n", *table, *id)
		return nil
	}
	row, err := ops.Get(ctx, *id)
	if err != nil {
		return err
	}
	return cli.print(row)
}

func (cli *commandLine) create(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("create")
	table := fs.String("table", "", "Table to insert into.")
	body := fs.String("data", "", "The row as a JSON object.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *table == "" || *body == "" {
		fs.Usage()
		return errHelp
	}
	ops, err := cli.table(*table)
	if err != nil {
		return err
	}
	row, err := ops.Create(ctx, json.RawMessage(*body))
	if err != nil {
		return err
	}
	return cli.print(row)
}

func (cli *commandLine) update(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("update")
	table := fs.String("table", "", "Table of the row.")
	id := fs.String("id", "", "Row id.")
	body := fs.String("data", "", "The changed fields as a JSON object.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *table == "" || *id == "" || *body == "" {
		fs.Usage()
		return errHelp
	}
	ops, err := cli.table(*table)
	if err != nil {
		return err
	}
	var patch data.Patch
	if err := json.Unmarshal([]byte(*body), &patch); err != nil {
		return fmt.Errorf("-data: %w", err)
	}
	row, err := ops.Update(ctx, *id, patch)
	if err != nil {
		return err
	}
	return cli.print(row)
}

func (cli *commandLine) userID() (string, error) {
	st := cli.app.Session.Snapshot()
	if st.Session == nil {
		return "", data.ErrNotSignedIn
	}
	return st.Session.Identity.ID, nil
}

func (cli *commandLine) notifications(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("notifications")
	read := fs.String("read", "", "Mark this notification read.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *read != "" {
		n, err := cli.app.Data.Notifications.MarkRead(ctx, *read)
		if err != nil {
			return err
		}
		return cli.print(n)
	}
	me, err := cli.userID()
	if err != nil {
		return err
	}
	list, err := cli.app.Data.Notifications.ListMine(ctx, me)
	if err != nil {
		return err
	}
	for _, n := range list {
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(cli.out, "%s %s [%s] %s: %s\n", mark, n.ID, n.Type, n.Title, n.Message)
	}
	return nil
}

func (cli *commandLine) invoke(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("invoke")
	name := fs.String("name", "", "Function name.")
	body := fs.String("data", "{}", "Request body as JSON.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		fs.Usage()
		return errHelp
	}
	if !json.Valid([]byte(*body)) {
		return errors.New("-data is not valid JSON")
	}
	var out json.RawMessage
	if err := cli.app.Invoke(ctx, *name, json.RawMessage(*body), &out); err != nil {
		return err
	}
	return cli.print(out)
}

func (cli *commandLine) watch(ctx context.Context, args []string) error {
	fs := cli.newFlagSet("watch")
	dur := fs.Duration("for", 0, "Stop after this long. Zero watches until interrupted.")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dur > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *dur)
		defer cancel()
	}

	stopState := cli.app.Realtime.OnState(func(s realtime.State) {
		fmt.Fprintf(cli.out, "realtime: %s\n", s)
	})
	defer stopState()
	stopEvents := cli.app.Realtime.OnEvent(func(ev model.ChangeEvent) {
		fmt.Fprintf(cli.out, "%s %s %s\n", ev.Op, ev.Table, ev.RowID)
	})
	defer stopEvents()

	if err := cli.app.Watch(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	cli.app.Realtime.Stop()
	return nil
}

func (cli *commandLine) print(v any) error {
	enc := json.NewEncoder(cli.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stdinFD() int { return int(os.Stdin.Fd()) }
