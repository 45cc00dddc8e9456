package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-shellwords"
	"github.com/pkg/errors"

	"github.com/oracle/coherence-sub061/internal/agent"
	"github.com/oracle/coherence-sub061/internal/cache"
	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/protocol"
	"github.com/oracle/coherence-sub061/internal/template"
)

// ErrBye ends the command loop.
var ErrBye = errors.New("bye")

// errUsage marks a command whose arguments do not match its grammar.
var errUsage = errors.New("invalid arguments")

var keyRange = []string{"cache", "iter", "threads", "start", "jobSize", "batch"}

// grammar lists the positional fields of every job command.
var grammar = map[protocol.Kind][]string{
	protocol.KindClear:                  {"cache"},
	protocol.KindPut:                    append(keyRange[:6:6], "valueSize"),
	protocol.KindPut2Serv:               append(keyRange[:6:6], "valueSize"),
	protocol.KindPutMixed:               append(keyRange[:6:6], "valueSize"),
	protocol.KindPutMixedContent:        append(keyRange[:6:6], "valueSize", "pctChange"),
	protocol.KindPutMixedComplexContent: append(keyRange[:6:6], "valueSize", "pctChange", "paramCount"),
	protocol.KindGet:                    keyRange,
	protocol.KindGet2Serv:               keyRange,
	protocol.KindRun:                    append(keyRange[:6:6], "cost", "latency"),
	protocol.KindBench:                  append(keyRange[:6:6], "valueSize", "type", "pctGet", "pctPut", "pctRemove"),
	protocol.KindQuery:                  {"cache", "iter", "threads", "extractor", "value"},
	protocol.KindDistinct:               {"cache", "iter", "threads", "extractor"},
	protocol.KindLoadRequest:            {"cache", "start", "jobSize", "batch", "type"},
	protocol.KindIndexRequest:           {"cache", "extractor", "add"},
}

// DefaultLoadValueSize is the value size of a load of random bytes.
const DefaultLoadValueSize = 1024

const help = `commands:
  bye | help | agents | runners
  start <n> | stop <n> | wait <n> | sleep <ms> | throttle <opsPerSecond>
  set [<name> <value>]   use as ${name}; also ${env:NAME}, ${uuid()}, ${random(min,max)}, ${date(layout)}
  clear <cache>
  load <cache> <start> <jobSize> <batch> <type>
  index <cache> <extractor> <add>
  put|put2serv|putmixed <cache> <iter> <threads> <start> <jobSize> <batch> <valueSize>
  putmixedcontent <cache> <iter> <threads> <start> <jobSize> <batch> <valueSize> <pctChange>
  putmixedcomplexcontent <cache> <iter> <threads> <start> <jobSize> <batch> <valueSize> <pctChange> <paramCount>
  get|get2serv <cache> <iter> <threads> <start> <jobSize> <batch>
  run <cache> <iter> <threads> <start> <jobSize> <batch> <cost> <latencyMs>
  bench <cache> <iter> <threads> <start> <jobSize> <batch> <valueSize> <type> <pctGet> <pctPut> <pctRemove>
  query <cache> <iter> <threads> <extractor> <value>
  distinct <cache> <iter> <threads> <extractor>
  save <file> | script <file>
value types: bytes, string, json
`

// ParseJob builds the parameters of a job command from its arguments.
func ParseJob(kind protocol.Kind, args []string) (*protocol.JobParams, error) {
	fields, ok := grammar[kind]
	if !ok {
		return nil, errors.Errorf("%s is not a command", kind)
	}
	if len(args) != len(fields) {
		return nil, errors.Wrapf(errUsage, "%s takes %d arguments, got %d", kind, len(fields), len(args))
	}
	p := &protocol.JobParams{}
	if kind == protocol.KindLoadRequest {
		p.ValueSize = DefaultLoadValueSize
	}
	for i, name := range fields {
		if err := setField(p, name, args[i]); err != nil {
			return nil, errors.Wrapf(errUsage, "%s: %v", kind, err)
		}
	}
	if kind == protocol.KindQuery || kind == protocol.KindDistinct {
		p.JobSize = p.ThreadCount
		p.BatchSize = 1
	}
	return p, nil
}

func setField(p *protocol.JobParams, name, token string) error {
	switch name {
	case "cache":
		p.CacheName = token
		return nil
	case "extractor":
		p.Extractor = token
		return nil
	case "value":
		p.Value = token
		return nil
	case "type":
		p.ValueType = protocol.ValueType(strings.ToLower(token))
		return nil
	case "add":
		add, err := strconv.ParseBool(token)
		if err != nil {
			return errors.Errorf("add %q is not a boolean", token)
		}
		p.AddIndex = add
		return nil
	}

	n, err := strconv.Atoi(token)
	if err != nil {
		return errors.Errorf("%s %q is not a number", name, token)
	}
	switch name {
	case "iter":
		p.IterationCount = n
	case "threads":
		p.ThreadCount = n
	case "start":
		p.StartKey = n
	case "jobSize":
		p.JobSize = n
	case "batch":
		p.BatchSize = n
	case "valueSize":
		p.ValueSize = n
	case "pctChange":
		p.PctChange = n
	case "paramCount":
		p.ParamCount = n
	case "cost":
		p.Cost = n
	case "latency":
		p.LatencyMillis = n
	case "pctGet":
		p.PctGet = n
	case "pctPut":
		p.PctPut = n
	case "pctRemove":
		p.PctRemove = n
	default:
		return errors.Errorf("unknown field %s", name)
	}
	return nil
}

// Run reads commands from r until it is exhausted, bye is entered or ctx is
// done.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		fmt.Fprint(c.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(c.out)
			return scanner.Err()
		}
		err := c.Execute(ctx, scanner.Text())
		if errors.Is(err, ErrBye) {
			return nil
		}
		if err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	}
}

// Execute runs one command line after expanding its placeholders.
func (c *Console) Execute(ctx context.Context, line string) error {
	if strings.HasPrefix(strings.TrimSpace(line), "#") {
		return nil
	}
	c.mu.Lock()
	line, err := template.Substitute(line, c.vars)
	c.mu.Unlock()
	if err != nil {
		fmt.Fprintf(c.out, "invalid command: %v\n", err)
		return nil
	}
	args, err := shellwords.Parse(line)
	if err != nil {
		fmt.Fprintf(c.out, "invalid command: %v\n", err)
		return nil
	}
	if len(args) == 0 {
		return nil
	}
	name, args := strings.ToLower(args[0]), args[1:]

	err = c.execute(ctx, name, args)
	if errors.Is(err, errUsage) {
		fmt.Fprintf(c.out, "invalid arguments for %s\n%s", name, help)
		return nil
	}
	var invalid *protocol.ValidationError
	if errors.As(err, &invalid) {
		fmt.Fprintln(c.out, invalid.Error())
		return nil
	}
	return err
}

func (c *Console) execute(ctx context.Context, name string, args []string) error {
	switch name {
	case "bye", "quit", "exit":
		return ErrBye
	case "help", "?":
		fmt.Fprint(c.out, help)
		return nil
	case "agents":
		return c.listAgents(ctx)
	case "runners":
		c.listRunners()
		return nil
	case "start", "stop":
		n, err := countArg(name, args)
		if err != nil {
			return err
		}
		return c.scaleRunners(ctx, name == "start", n)
	case "wait":
		n, err := countArg(name, args)
		if err != nil {
			return err
		}
		if !c.WaitForRunners(ctx, n, 0) {
			return ctx.Err()
		}
		fmt.Fprintf(c.out, "%d runner(s) connected\n", len(c.Runners()))
		return nil
	case "sleep":
		ms, err := countArg(name, args)
		if err != nil {
			return err
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case "throttle":
		if len(args) != 1 {
			return errUsage
		}
		ops, err := strconv.Atoi(args[0])
		if err != nil || ops < 0 {
			return errUsage
		}
		c.SetThrottle(ops)
		if ops == 0 {
			fmt.Fprintln(c.out, "throttle off")
		} else {
			fmt.Fprintf(c.out, "throttle %d ops/s per thread\n", ops)
		}
		return nil
	case "set":
		return c.set(args)
	case "save":
		if len(args) != 1 {
			return errUsage
		}
		return c.Save(args[0])
	case "script":
		if len(args) != 1 {
			return errUsage
		}
		return c.Script(ctx, args[0])
	}

	kind, ok := protocol.ParseKind(name)
	if !ok {
		fmt.Fprint(c.out, help)
		return nil
	}
	if _, ok := grammar[kind]; !ok {
		fmt.Fprint(c.out, help)
		return nil
	}
	p, err := ParseJob(kind, args)
	if err != nil {
		return err
	}

	switch kind {
	case protocol.KindLoadRequest:
		n, err := c.Load(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "loaded %d entries into %s\n", n, p.CacheName)
		return nil
	case protocol.KindIndexRequest:
		if err := c.Index(ctx, p); err != nil {
			return err
		}
		verb := "removed"
		if p.AddIndex {
			verb = "added"
		}
		fmt.Fprintf(c.out, "index on %s %s for %s\n", p.Extractor, verb, p.CacheName)
		return nil
	}

	result, complete, err := c.RunJob(ctx, kind, p)
	if err != nil {
		return err
	}
	fmt.Fprint(c.out, c.summarize(kind, result, complete))
	return nil
}

func countArg(name string, args []string) (int, error) {
	if len(args) != 1 {
		return 0, errUsage
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 0 {
		return 0, errors.Wrapf(errUsage, "%s %q", name, args[0])
	}
	return n, nil
}

func (c *Console) set(args []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch len(args) {
	case 0:
		for _, name := range c.vars.Names() {
			fmt.Fprintf(c.out, "  %s=%s\n", name, c.vars[name])
		}
	case 2:
		c.vars[args[0]] = args[1]
	default:
		return errUsage
	}
	return nil
}

// SetThrottle limits each thread of later jobs to ops iterations per
// second. Zero disables the limit.
func (c *Console) SetThrottle(ops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.throttle = ops
}

// Save writes the last job's result to path as a tab-separated report.
func (c *Console) Save(path string) error {
	result := c.LastResult()
	if result == nil {
		fmt.Fprintln(c.out, "no result to save")
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "creating report")
	}
	if err := collector.WriteReport(f, result); err != nil {
		f.Close()
		return errors.Wrap(err, "writing report")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing report")
	}
	fmt.Fprintf(c.out, "saved to %s\n", path)
	return nil
}

// Script executes the commands in the file at path. A bye in the script
// ends the script only.
func (c *Console) Script(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening script")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fmt.Fprintf(c.out, "> %s\n", line)
		err := c.Execute(ctx, line)
		if errors.Is(err, ErrBye) {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "script %s", path)
		}
	}
	return errors.Wrapf(scanner.Err(), "reading script %s", path)
}

func (c *Console) listRunners() {
	runners := c.Runners()
	fmt.Fprintf(c.out, "%d runner(s)\n", len(runners))
	for _, ch := range runners {
		fmt.Fprintf(c.out, "  %s\tconnected %s\n", ch.Name(), ch.ConnectedAt().Format(time.RFC3339))
	}
}

// memoryRegistryHint explains an empty memory registry: it only holds agents
// running in this process.
const memoryRegistryHint = "the memory cache backend is local to this process; agents and console must share a backend such as redis"

// errNoAgents reports an empty registry, with a hint when it is in memory.
func (c *Console) errNoAgents() error {
	if _, ok := c.registry.(*cache.Memory); ok {
		return errors.Errorf("no agents registered (%s)", memoryRegistryHint)
	}
	return errors.New("no agents registered")
}

func (c *Console) agents(ctx context.Context) ([]agent.Registration, error) {
	if c.registry == nil {
		return nil, errors.New("no agent registry configured")
	}
	return agent.Registered(ctx, c.registry)
}

func (c *Console) listAgents(ctx context.Context) error {
	agents, err := c.agents(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%d agent(s)\n", len(agents))
	if len(agents) == 0 {
		fmt.Fprintln(c.out, "  "+c.errNoAgents().Error())
	}
	for _, a := range agents {
		fmt.Fprintf(c.out, "  %s\t%s\thost=%s\trunners=%d\n", a.Name, a.Address, a.Host, a.Runners)
	}
	return nil
}

// scaleRunners starts or stops n runners, spread evenly over the registered
// agents with the remainder on the last.
func (c *Console) scaleRunners(ctx context.Context, start bool, n int) error {
	if n == 0 {
		return nil
	}
	agents, err := c.agents(ctx)
	if err != nil {
		return err
	}
	if len(agents) == 0 {
		return c.errNoAgents()
	}
	total := 0
	for i, a := range agents {
		count := n / len(agents)
		if i == len(agents)-1 {
			count += n % len(agents)
		}
		if count == 0 {
			continue
		}
		client := agent.NewClient(a.Address)
		if start {
			ids, err := client.StartRunners(ctx, count)
			if err != nil {
				return err
			}
			total += len(ids)
		} else {
			stopped, err := client.StopRunners(ctx, count)
			if err != nil {
				return err
			}
			total += stopped
		}
	}
	verb := "stopped"
	if start {
		verb = "started"
	}
	fmt.Fprintf(c.out, "%s %d runner(s) on %d agent(s)\n", verb, total, len(agents))
	return nil
}
