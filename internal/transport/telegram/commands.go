package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pewsched/internal/task/scheduler"
)

// Scheduler is the part of the scheduler service the console drives.
type Scheduler interface {
	Snapshot() scheduler.View
	Do(ctx context.Context, cmd scheduler.Command) error
}

var (
	ErrUsage     = errors.New("usage")
	ErrNoMatch   = errors.New("no entry matches")
	ErrAmbiguous = errors.New("several entries match")
)

type handlerFunc func(ctx context.Context, s Scheduler, args []string) (string, error)

type command struct {
	Name        string
	Usage       string
	Description string
	Handle      handlerFunc
}

var commands = []command{
	{Name: "status", Description: "scheduler state and plan", Handle: cmdStatus},
	{Name: "entry", Usage: "<id|name>", Description: "details of one entry", Handle: cmdEntry},
	{Name: "startnow", Usage: "<id|name>", Description: "start an entry now", Handle: entryCmd(func(id string) scheduler.Command { return scheduler.StartNow{ID: id} }, "start requested")},
	{Name: "stopnow", Description: "stop the running entry", Handle: cmdStopNow},
	{Name: "confirm", Usage: "<id|name>", Description: "allow an entry without stop conditions", Handle: entryCmd(func(id string) scheduler.Command { return scheduler.Confirm{ID: id} }, "confirmed")},
	{Name: "enable", Usage: "<id|name>", Description: "enable an entry", Handle: entryCmd(func(id string) scheduler.Command { return scheduler.SetEnabled{ID: id, Enabled: true} }, "enabled")},
	{Name: "disable", Usage: "<id|name>", Description: "disable an entry", Handle: entryCmd(func(id string) scheduler.Command { return scheduler.SetEnabled{ID: id} }, "disabled")},
	{Name: "resetruns", Usage: "<id|name>", Description: "clear run history of an entry", Handle: entryCmd(func(id string) scheduler.Command { return scheduler.ResetRuns{ID: id} }, "run history cleared")},
	{Name: "pause", Description: "suppress new starts", Handle: simpleCmd(scheduler.Pause{}, "paused")},
	{Name: "resume", Description: "allow starts again", Handle: simpleCmd(scheduler.Resume{}, "resumed")},
	{Name: "reset", Description: "leave ERROR", Handle: simpleCmd(scheduler.Reset{}, "reset, back to READY")},
}

func findCommand(name string) (command, bool) {
	name = strings.ToLower(strings.TrimPrefix(name, "/"))
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	return command{}, false
}

func helpText() string {
	var sb strings.Builder
	sb.WriteString("<b>commands</b>\n")
	for _, c := range commands {
		sb.WriteString(code("/" + c.Name))
		if c.Usage != "" {
			sb.WriteString(" " + esc(c.Usage))
		}
		sb.WriteString(" - " + esc(c.Description) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// resolve finds the entry an operator means: an exact ID, a unique ID
// prefix, or a unique name, all case-insensitive.
func resolve(v scheduler.View, arg string) (scheduler.EntryView, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return scheduler.EntryView{}, fmt.Errorf("%w: entry id or name required", ErrUsage)
	}
	var byPrefix, byName []scheduler.EntryView
	for _, e := range v.Entries {
		if strings.EqualFold(e.ID, arg) {
			return e, nil
		}
		if len(arg) >= 4 && len(e.ID) >= len(arg) && strings.EqualFold(e.ID[:len(arg)], arg) {
			byPrefix = append(byPrefix, e)
		}
		if strings.EqualFold(e.Name, arg) {
			byName = append(byName, e)
		}
	}
	for _, set := range [][]scheduler.EntryView{byPrefix, byName} {
		switch len(set) {
		case 0:
			continue
		case 1:
			return set[0], nil
		default:
			return scheduler.EntryView{}, fmt.Errorf("%w %q, use the id", ErrAmbiguous, arg)
		}
	}
	return scheduler.EntryView{}, fmt.Errorf("%w %q", ErrNoMatch, arg)
}

func cmdStatus(_ context.Context, s Scheduler, _ []string) (string, error) {
	return renderStatus(s.Snapshot()), nil
}

func cmdEntry(_ context.Context, s Scheduler, args []string) (string, error) {
	e, err := resolve(s.Snapshot(), strings.Join(args, " "))
	if err != nil {
		return "", err
	}
	return renderEntry(e), nil
}

func cmdStopNow(ctx context.Context, s Scheduler, _ []string) (string, error) {
	cur := s.Snapshot().Current
	if err := s.Do(ctx, scheduler.StopNow{}); err != nil {
		return "", err
	}
	return "stop requested for " + code(shortID(cur)), nil
}

func entryCmd(build func(id string) scheduler.Command, ok string) handlerFunc {
	return func(ctx context.Context, s Scheduler, args []string) (string, error) {
		e, err := resolve(s.Snapshot(), strings.Join(args, " "))
		if err != nil {
			return "", err
		}
		if err := s.Do(ctx, build(e.ID)); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s: %s %s", esc(ok), bold(e.Name), code(shortID(e.ID))), nil
	}
}

func simpleCmd(cmd scheduler.Command, ok string) handlerFunc {
	return func(ctx context.Context, s Scheduler, _ []string) (string, error) {
		if err := s.Do(ctx, cmd); err != nil {
			return "", err
		}
		return esc(ok), nil
	}
}

// run executes one command line and always returns something to reply with.
func run(ctx context.Context, s Scheduler, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText()
	}
	c, ok := findCommand(fields[0])
	if !ok {
		return helpText()
	}
	out, err := c.Handle(ctx, s, fields[1:])
	if err != nil {
		msg := "❌ " + esc(err.Error())
		if errors.Is(err, ErrUsage) && c.Usage != "" {
			msg += "\n" + code("/"+c.Name+" "+c.Usage)
		}
		return msg
	}
	return out
}
