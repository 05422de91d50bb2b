package errors

import (
	"bytes"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/mint-widget/pkg/errors/reporter"
	"moff.io/mint-widget/pkg/log"
)

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

func init() {
	reporters = make([]Reporter, 0)
	if os.Getenv(debugMode) == "" {
		log.Info("Env DEBUG not set, report errors enabled.")
	} else {
		log.Info("Env DEBUG set, report errors disabled.")
	}
}

func report(err error) {
	if err == nil {
		return
	}
	if os.Getenv(debugMode) != "" {
		return
	}
	reportersMu.RLock()
	defer reportersMu.RUnlock()
	for _, r := range reporters {
		r.Report(err)
	}
}

// Reporter receives every error built through the *AndReport helpers.
type Reporter interface {
	Report(error)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) {
	f(err)
}

// RegisterReporter adds r to the reporter chain.
func RegisterReporter(r Reporter) {
	if r == nil {
		return
	}
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = make([]Reporter, 0)
}

type sentryReporter struct {
}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// reports are skipped entirely when this env var is set
const debugMode = "DEBUG"

// NewSentryReporter registers a sentry reporter for the given DSN.
// An empty DSN is not an error, the reporter is simply skipped.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	sentryClientOptions := sentry.ClientOptions{
		Dsn: sentryDSN,
	}

	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}

	sentryClientOptions.CaCerts = rootCAs
	err = sentry.Init(sentryClientOptions)
	if err != nil {
		return Wrap(err, "init sentry")
	}
	log.Info("sentry error reporter initialized.")
	RegisterReporter(&sentryReporter{})
	return nil
}

// FlushSentry waits for buffered sentry events, call it before exit.
func FlushSentry(timeout time.Duration) {
	sentry.Flush(timeout)
}

type dingTalkRobotReporter struct {
	limiter *rateLimiter
	reporter.DingTalkRobot
}

// NewDingTalkReporter registers a dingtalk robot reporter posting to webhook.
func NewDingTalkReporter(webhook, secret string, reportDelay time.Duration) {
	if webhook == "" {
		log.Warn("empty dingtalk webhook found, skipping dingtalk reporter initialization.")
		return
	}
	robot := reporter.NewDingTalkRobot(webhook).WithSecret(secret)
	RegisterReporter(&dingTalkRobotReporter{limiter: newRateLimiter(reportDelay), DingTalkRobot: robot})
	log.Info("dingtalk error reporter initialized.")
}

const (
	errorField  = "error: "
	stacksField = "\nstacks:\n"
	breakline   = "\n"
	indent      = "	"
)

func (r *dingTalkRobotReporter) Report(err error) {
	if err == nil {
		return
	}
	stacks := callers().fullStack()
	limited, stats := r.limiter.StackBasedRateLimited(stackKey(stacks))
	if limited {
		return
	}
	var content bytes.Buffer
	content.WriteString("last report:")
	content.WriteString(formatReportTime(stats.lastReportTime))
	content.WriteString(breakline)
	content.WriteString("occur since last report:")
	content.WriteString(strconv.Itoa(stats.occurCountSinceLastReport))
	content.WriteString(breakline)
	content.WriteString(errorField)
	content.WriteString(err.Error())
	content.WriteString(stacksField)
	for _, s := range stacks {
		content.WriteString(indent)
		content.WriteString(s)
		content.WriteString(breakline)
	}
	if err := r.SendText(content.String(), nil, true); err != nil {
		log.Info(WithStack(err))
	}
}
