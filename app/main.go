package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/jobers/app/history"
	"github.com/umputun/jobers/app/jobs"
	"github.com/umputun/jobers/app/notify"
	"github.com/umputun/jobers/app/runner"
	"github.com/umputun/jobers/app/store"
)

var opts struct {
	Location string `long:"location" env:"JOBERS_LOCATION" description:"storage location, default ~/.jobers"`

	Add struct {
		Args struct {
			Name    string `positional-arg-name:"name" description:"job name"`
			Command string `positional-arg-name:"command" description:"shell command to store"`
		} `positional-args:"yes" required:"yes"`
	} `command:"add" description:"add a new job"`

	List struct {
		Verbose bool `short:"v" long:"verbose" description:"show last run details"`
	} `command:"list" description:"list all jobs"`

	Run struct {
		Name string `short:"n" long:"name" required:"yes" description:"name of the job to run"`
		Args struct {
			Extra []string `positional-arg-name:"args" description:"extra arguments appended to the stored command"`
		} `positional-args:"yes"`
	} `command:"run" description:"run a stored job"`

	Show struct {
		Args struct {
			Name string `positional-arg-name:"name" description:"job name"`
		} `positional-args:"yes" required:"yes"`
	} `command:"show" description:"show job details"`

	Remove struct {
		Args struct {
			Name string `positional-arg-name:"name" description:"job name"`
		} `positional-args:"yes" required:"yes"`
	} `command:"remove" description:"remove a job and its history"`

	Clear struct{} `command:"clear" description:"remove all jobs and history"`

	Import struct {
		File string `short:"f" long:"file" required:"yes" description:"yaml jobfile to import"`
	} `command:"import" description:"bulk import jobs from a yaml jobfile"`

	Export struct{} `command:"export" description:"export all jobs as a yaml jobfile"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times to repeat a failed run"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration between repeats"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"JOBERS_REPEATER"`

	Notify struct {
		EnabledError    bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on failed runs"`
		EnabledComplete bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable notifications on completed runs"`
		Webhooks        []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s)"`
		ToEmails        []string      `long:"to" env:"TO" env-delim:"," description:"target email(s)"`
		FromEmail       string        `long:"from" env:"FROM" description:"from email"`
		SMTPHost        string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort        int           `long:"smtp-port" env:"SMTP_PORT" description:"SMTP port"`
		SMTPUsername    string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword    string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS         bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPStartTLS    bool          `long:"smtp-starttls" env:"SMTP_STARTTLS" description:"enable SMTP StartTLS"`
		TimeOut         time.Duration `long:"timeout" env:"TIMEOUT" default:"10s" description:"notification timeout"`
		MaxLogLines     int           `long:"max-log" env:"MAX_LOG" default:"100" description:"max number of output lines attached to notifications"`
		HostName        string        `long:"host" env:"HOSTNAME" description:"host name reported in notifications"`
	} `group:"notify" namespace:"notify" env-namespace:"JOBERS_NOTIFY"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging"`
		Filename        string `long:"filename" env:"FILENAME" description:"log to file instead of stdout"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"maximum size in megabytes of the log file before it gets rotated"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"maximum number of old log files to retain"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"maximum number of days to retain old log files"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"determines if the rotated log files should be compressed using gzip"`
	} `group:"log" namespace:"log" env-namespace:"JOBERS_LOG"`

	Dbg bool `long:"dbg" env:"JOBERS_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	p := flags.NewParser(&opts, flags.Default)
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	logWriter := setupLogs()
	log.Printf("[DEBUG] jobers %s", revision)

	if p.Active == nil {
		p.WriteHelp(os.Stderr)
		os.Exit(2)
	}

	if err := run(p.Active.Name, logWriter); err != nil {
		log.Printf("[DEBUG] command %s failed, %v", p.Active.Name, err)
		fmt.Fprintf(os.Stderr, "jobers failed: %v\n", err)
		os.Exit(1)
	}
}

// run dispatches the active command. Each handler loads the aggregates it
// needs, mutates them in memory and saves the changed ones back before return.
func run(command string, logWriter io.Writer) error {
	st, err := makeStore()
	if err != nil {
		return err
	}
	log.Printf("[DEBUG] storage location %s", st.Location())

	switch command {
	case "add":
		return cmdAdd(st)
	case "list":
		return cmdList(st)
	case "run":
		return cmdRun(st, logWriter)
	case "show":
		return cmdShow(st)
	case "remove":
		return cmdRemove(st)
	case "clear":
		return cmdClear(st)
	case "import":
		return cmdImport(st)
	case "export":
		return cmdExport(st)
	}
	return fmt.Errorf("unknown command %q", command)
}

func cmdAdd(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	name := strings.TrimSpace(opts.Add.Args.Name)
	if name == "" {
		return fmt.Errorf("job name can't be empty")
	}
	if err := reg.Add(jobs.Job{Name: name, Command: opts.Add.Args.Command}); err != nil {
		return err
	}
	if err := st.Save(reg); err != nil {
		return fmt.Errorf("can't save jobs: %w", err)
	}
	fmt.Printf("added job %q\n", name)
	return nil
}

func cmdList(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	if reg.Len() == 0 {
		fmt.Println("no jobs stored")
		return nil
	}

	tracker, err := loadTracker(st)
	if err != nil {
		return err
	}

	for _, job := range sortedJobs(reg) {
		if !opts.List.Verbose {
			fmt.Printf("%s: %s\n", job.Name, job.Command)
			continue
		}
		fmt.Printf("%s: %s\n", job.Name, job.Command)
		fmt.Printf("  %s\n", describeHistory(tracker, job.Name))
	}
	return nil
}

func cmdShow(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	name := opts.Show.Args.Name
	job, ok := reg.Get(name)
	if !ok {
		return &jobs.NotFoundError{Name: name}
	}

	tracker, err := loadTracker(st)
	if err != nil {
		return err
	}

	fmt.Printf("name: %s\ncommand: %s\n%s\n", job.Name, job.Command, describeHistory(tracker, job.Name))
	return nil
}

func cmdRun(st *store.Store, logWriter io.Writer) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	job, ok := reg.Get(opts.Run.Name)
	if !ok {
		return &jobs.NotFoundError{Name: opts.Run.Name}
	}
	tracker, err := loadTracker(st)
	if err != nil {
		return err
	}

	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})
	rnr := runner.Runner{Stdout: logWriter, Repeater: rptr, MaxLogLines: opts.Notify.MaxLogLines}

	log.Printf("[INFO] executing %q (%s)", job.Command, job.Name)
	status, output, execErr := rnr.Run(context.Background(), job.Command, opts.Run.Args.Extra...)
	if execErr != nil {
		log.Printf("[WARN] %v", execErr)
	}

	// record the outcome and persist before any reporting, a notification
	// failure should not lose the run from history
	tracker.Record(job.Name, status)
	if err := st.Save(tracker); err != nil {
		return fmt.Errorf("can't save history: %w", err)
	}

	if err := notifyRun(job, status, output); err != nil {
		log.Printf("[WARN] %v", err)
	}

	fmt.Printf("job %q finished, %s\n", job.Name, status)
	if status.Failed() {
		code := status.ExitCode()
		if code <= 0 { // abnormal termination has no usable exit code
			code = 1
		}
		os.Exit(code)
	}
	return nil
}

func cmdRemove(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	tracker, err := loadTracker(st)
	if err != nil {
		return err
	}

	name := opts.Remove.Args.Name
	if err := reg.Remove(name); err != nil {
		return err
	}
	tracker.Remove(name) // keep history in sync with the registry

	if err := st.Save(reg); err != nil {
		return fmt.Errorf("can't save jobs: %w", err)
	}
	if err := st.Save(tracker); err != nil {
		return fmt.Errorf("can't save history: %w", err)
	}
	fmt.Printf("removed job %q\n", name)
	return nil
}

func cmdClear(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	tracker, err := loadTracker(st)
	if err != nil {
		return err
	}

	count := reg.Len()
	reg.Clear()
	tracker.Clear()

	if err := st.Save(reg); err != nil {
		return fmt.Errorf("can't save jobs: %w", err)
	}
	if err := st.Save(tracker); err != nil {
		return fmt.Errorf("can't save history: %w", err)
	}
	fmt.Printf("removed %d job(s)\n", count)
	return nil
}

func cmdImport(st *store.Store) error {
	fh, err := os.Open(opts.Import.File) // nolint gosec // user-provided jobfile is the point
	if err != nil {
		return fmt.Errorf("can't open jobfile: %w", err)
	}
	defer func() {
		if err := fh.Close(); err != nil {
			log.Printf("[WARN] can't close %s, %v", opts.Import.File, err)
		}
	}()

	jf, err := jobs.ParseJobfile(fh)
	if err != nil {
		return fmt.Errorf("invalid jobfile %s: %w", opts.Import.File, err)
	}

	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}

	added := 0
	for _, job := range jf.Jobs {
		if err := reg.Add(job); err != nil {
			log.Printf("[WARN] skipped %q, %v", job.Name, err)
			fmt.Printf("skipped job %q, already exists\n", job.Name)
			continue
		}
		added++
	}
	if err := st.Save(reg); err != nil {
		return fmt.Errorf("can't save jobs: %w", err)
	}
	fmt.Printf("imported %d of %d job(s)\n", added, len(jf.Jobs))
	return nil
}

func cmdExport(st *store.Store) error {
	reg, err := loadRegistry(st)
	if err != nil {
		return err
	}
	jf := jobs.Jobfile{Jobs: sortedJobs(reg)}
	if _, err := jf.WriteTo(os.Stdout); err != nil {
		return err
	}
	return nil
}

func makeStore() (*store.Store, error) {
	if opts.Location != "" {
		return store.New(opts.Location), nil
	}
	return store.NewInHome()
}

func loadRegistry(st *store.Store) (*jobs.Registry, error) {
	reg := &jobs.Registry{}
	if err := st.Load(reg); err != nil {
		return nil, fmt.Errorf("can't load jobs: %w", err)
	}
	return reg, nil
}

func loadTracker(st *store.Store) (*history.Tracker, error) {
	tracker := &history.Tracker{}
	if err := st.Load(tracker); err != nil {
		return nil, fmt.Errorf("can't load history: %w", err)
	}
	return tracker, nil
}

// sortedJobs returns registry jobs in display order. The registry itself makes
// no ordering guarantee, sorting is the CLI's job.
func sortedJobs(reg *jobs.Registry) []jobs.Job {
	jj := reg.List()
	sort.Slice(jj, func(i, j int) bool { return jj[i].Name < jj[j].Name })
	return jj
}

func describeHistory(tracker *history.Tracker, name string) string {
	h, ok := tracker.Get(name)
	if !ok {
		return "never run"
	}
	run := h.LastRun()
	return fmt.Sprintf("last run: %s, %s, %d run(s)", run.Status, humanize.Time(run.Timestamp), h.RunCount())
}

func notifyRun(job jobs.Job, status history.Status, output string) error {
	notifier := makeNotifier()
	if notifier == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opts.Notify.TimeOut)
	defer cancel()

	if status.Failed() && notifier.IsOnError() {
		subj := fmt.Sprintf("failed %q on %s", job.Name, makeHostName())
		return notifier.Send(ctx, subj, notify.MakeErrorText(job.Name, job.Command, status.String(), output))
	}
	if !status.Failed() && notifier.IsOnCompletion() {
		subj := fmt.Sprintf("completed %q on %s", job.Name, makeHostName())
		return notifier.Send(ctx, subj, notify.MakeCompletionText(job.Name, job.Command))
	}
	return nil
}

func makeNotifier() *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledComplete {
		return nil
	}

	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "jobers@" + makeHostName()
	}

	return notify.NewService(notify.Params{
		EnabledError:      opts.Notify.EnabledError,
		EnabledCompletion: opts.Notify.EnabledComplete,
		WebhookURLs:       opts.Notify.Webhooks,
		ToEmails:          opts.Notify.ToEmails,
		FromEmail:         opts.Notify.FromEmail,
		SMTPHost:          opts.Notify.SMTPHost,
		SMTPPort:          opts.Notify.SMTPPort,
		SMTPTLS:           opts.Notify.SMTPTLS,
		SMTPStartTLS:      opts.Notify.SMTPStartTLS,
		SMTPUsername:      opts.Notify.SMTPUsername,
		SMTPPassword:      opts.Notify.SMTPPassword,
		Timeout:           opts.Notify.TimeOut,
	})
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func setupLogs() io.Writer {
	if !opts.Log.Enabled {
		log.Setup(log.Out(io.Discard), log.Err(io.Discard))
		return os.Stdout
	}

	log.Setup(log.Msec)

	if opts.Dbg {
		log.Setup(log.Debug, log.CallerFunc, log.CallerPkg, log.CallerFile)
	}

	if opts.Log.Filename != "" {
		fileLogger := &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}

		log.Setup(log.Out(io.MultiWriter(os.Stdout, fileLogger)), log.Err(io.MultiWriter(os.Stderr, fileLogger)))
		return fileLogger
	}

	return os.Stdout
}
