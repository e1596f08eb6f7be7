package clock

import (
	"context"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/llmchat/pkg/model"
	"github.com/m-mizutani/llmchat/pkg/tool"
	"github.com/urfave/cli/v3"
)

type clock struct {
	timezone string
	loc      *time.Location
	now      func() time.Time
}

// New creates the time_date tool
func New() *clock {
	return &clock{now: time.Now}
}

// NewWithClock creates the tool with a fixed time source
func NewWithClock(now func() time.Time, timezone string) *clock {
	return &clock{now: now, timezone: timezone}
}

// Flags returns CLI flags for this tool
func (x *clock) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "timezone",
			Sources:     cli.EnvVars("LLMCHAT_TIMEZONE"),
			Usage:       "Default IANA time zone for the time_date tool (local zone if empty)",
			Destination: &x.timezone,
		},
	}
}

func (x *clock) Init(ctx context.Context, client *tool.Client) (bool, error) {
	x.loc = time.Local
	if x.timezone != "" {
		loc, err := time.LoadLocation(x.timezone)
		if err != nil {
			return false, goerr.Wrap(err, "invalid timezone", goerr.V("timezone", x.timezone))
		}
		x.loc = loc
	}
	return true, nil
}

func (x *clock) Prompt(ctx context.Context) string {
	return ""
}

func (x *clock) Spec() *model.ToolDescriptor {
	return &model.ToolDescriptor{
		Name:        "time_date",
		Description: "Get the current date, time, weekday and time zone",
		Category:    "utility",
		Keywords:    []string{"time", "date", "today", "clock", "weekday", "timezone"},
		Parameters: map[string]*model.ParamSpec{
			"timezone": {
				Type:        model.ParamTypeString,
				Description: "IANA time zone such as Asia/Tokyo; defaults to the user's zone",
				Optional:    true,
			},
		},
	}
}

func (x *clock) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	loc := x.loc
	if loc == nil {
		loc = time.Local
	}
	if tz, ok := tool.StringParam(params, "timezone"); ok {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return tool.Failure("unknown timezone %q", tz), nil
		}
		loc = l
	}

	now := x.now().In(loc)
	zone, offset := now.Zone()
	return tool.Success(map[string]any{
		"datetime":       now.Format(time.RFC3339),
		"date":           now.Format("2006-01-02"),
		"time":           now.Format("15:04:05"),
		"weekday":        now.Weekday().String(),
		"timezone":       loc.String(),
		"zone":           zone,
		"offset_seconds": offset,
		"unix":           now.Unix(),
	}), nil
}
