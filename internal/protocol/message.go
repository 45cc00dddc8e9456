package protocol

import (
	"encoding/json"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/wire"
)

// ErrUnknownType is returned when a frame carries a type id with no message kind.
var ErrUnknownType = errors.New("unknown message type")

// Message is the closed set of messages. Kind selects which payload field is set:
// Job for jobs, LoadRequest and IndexRequest; Result for TestResult;
// Sample for SampleRequest; Response for Response.
type Message struct {
	Kind Kind
	ID   int64 // correlation id of requests

	Job      *JobParams
	Result   *TestResultPayload
	Sample   *SampleRequest
	Response *Response
}

// TestResultPayload is the final result a runner reports for one job.
type TestResultPayload struct {
	JobID  int64
	Runner string
	Result *collector.TestResult
}

func (p *TestResultPayload) WriteProperties(props wire.Properties) error {
	result, err := wire.Encode(p.Result)
	if err != nil {
		return err
	}
	return wire.NewWriter(props).
		Put(0, p.JobID).
		Put(1, p.Runner).
		Put(2, result).
		Err()
}

func (p *TestResultPayload) ReadProperties(props wire.Properties) error {
	var result wire.Properties
	if err := wire.NewReader(props).Get(0, &p.JobID).Get(1, &p.Runner).Get(2, &result).Err(); err != nil {
		return err
	}
	p.Result = collector.NewTestResult()
	return p.Result.ReadProperties(result)
}

// SampleRequest asks a runner for live snapshots of a job's threads.
type SampleRequest struct {
	JobID int64
}

func (s *SampleRequest) WriteProperties(props wire.Properties) error {
	return props.Put(0, s.JobID)
}

func (s *SampleRequest) ReadProperties(props wire.Properties) error {
	return props.Get(0, &s.JobID)
}

// Response answers a request.
type Response struct {
	RequestID int64
	Failure   bool
	Result    json.RawMessage
	Error     string
}

// NewResponse creates a successful response carrying v.
func NewResponse(requestID int64, v interface{}) (*Response, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "encoding response")
	}
	return &Response{RequestID: requestID, Result: data}, nil
}

// NewFailure creates a failed response.
func NewFailure(requestID int64, err error) *Response {
	return &Response{RequestID: requestID, Failure: true, Error: err.Error()}
}

// Err returns the remote error of a failed response.
func (r *Response) Err() error {
	if !r.Failure {
		return nil
	}
	return errors.Errorf("remote failure: %s", r.Error)
}

// Decode unmarshals the result into v, or returns the remote error.
func (r *Response) Decode(v interface{}) error {
	if err := r.Err(); err != nil {
		return err
	}
	if len(r.Result) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(r.Result, v), "decoding response")
}

func (r *Response) WriteProperties(props wire.Properties) error {
	w := wire.NewWriter(props).
		Put(0, r.RequestID).
		Put(1, r.Failure)
	if len(r.Result) > 0 {
		w.Put(2, r.Result)
	}
	if r.Error != "" {
		w.Put(3, r.Error)
	}
	return w.Err()
}

func (r *Response) ReadProperties(props wire.Properties) error {
	return wire.NewReader(props).
		Get(0, &r.RequestID).
		Get(1, &r.Failure).
		Get(2, &r.Result).
		Get(3, &r.Error).
		Err()
}

// Frame encodes m for the wire.
func (m *Message) Frame() (wire.Frame, error) {
	props := make(wire.Properties)
	var err error
	switch {
	case m.Kind == KindTestResult:
		if m.Result == nil {
			return wire.Frame{}, errors.New("result message without payload")
		}
		err = m.Result.WriteProperties(props)
	case m.Kind == KindSampleRequest:
		if m.Sample == nil {
			return wire.Frame{}, errors.New("sample request without payload")
		}
		err = m.Sample.WriteProperties(props)
	case m.Kind == KindResponse:
		if m.Response == nil {
			return wire.Frame{}, errors.New("response message without payload")
		}
		err = m.Response.WriteProperties(props)
	case m.Kind.IsJob() || m.Kind == KindLoadRequest || m.Kind == KindIndexRequest:
		if m.Job == nil {
			return wire.Frame{}, errors.Errorf("%s message without parameters", m.Kind)
		}
		err = m.Job.write(m.Kind, props)
	default:
		return wire.Frame{}, errors.Wrapf(ErrUnknownType, "type id %d", int(m.Kind))
	}
	if err != nil {
		return wire.Frame{}, errors.Wrapf(err, "encoding %s message", m.Kind)
	}
	return wire.Frame{Type: int(m.Kind), ID: m.ID, Props: props}, nil
}

// Decode rebuilds the message carried by f.
func Decode(f wire.Frame) (*Message, error) {
	kind := Kind(f.Type)
	m := &Message{Kind: kind, ID: f.ID}
	var err error
	switch kind {
	case KindTestResult:
		m.Result = &TestResultPayload{}
		err = m.Result.ReadProperties(f.Props)
	case KindSampleRequest:
		m.Sample = &SampleRequest{}
		err = m.Sample.ReadProperties(f.Props)
	case KindResponse:
		m.Response = &Response{}
		err = m.Response.ReadProperties(f.Props)
	case KindClear, KindPut, KindGet, KindRun, KindPutMixed, KindPutMixedContent,
		KindPutMixedComplexContent, KindPut2Serv, KindGet2Serv, KindBench, KindQuery,
		KindDistinct, KindLoadRequest, KindIndexRequest:
		m.Job = &JobParams{}
		err = m.Job.read(kind, f.Props)
	default:
		return nil, errors.Wrapf(ErrUnknownType, "type id %d", f.Type)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s message", kind)
	}
	return m, nil
}

// ForClient returns the message to send to client i of n, or nil when that
// client has no share. Key-range jobs are split evenly; query and distinct
// jobs go unchanged to every client; clear and index go to client 0 only.
func (m *Message) ForClient(i, n int) *Message {
	if m.Job == nil || n < 1 || i < 0 || i >= n {
		return nil
	}
	var job *JobParams
	switch {
	case m.Kind == KindClear || m.Kind == KindIndexRequest:
		if i == 0 {
			job = m.Job.Clone()
		}
	case m.Kind == KindQuery || m.Kind == KindDistinct:
		job = m.Job.Clone()
	case m.Kind.IsKeyRange():
		job = m.Job.Split(i, n)
	}
	if job == nil {
		return nil
	}
	return &Message{Kind: m.Kind, ID: m.ID, Job: job}
}

// Factory builds messages. Requests get correlation ids that are strictly
// increasing for the lifetime of the factory.
type Factory struct {
	lastID atomic.Int64
}

// NewFactory creates a factory whose first request id is 1.
func NewFactory() *Factory {
	return &Factory{}
}

// NextID allocates a correlation id.
func (f *Factory) NextID() int64 {
	return f.lastID.Add(1)
}

// NewJob creates a fire-and-forget job message.
func (f *Factory) NewJob(kind Kind, job *JobParams) (*Message, error) {
	if !kind.IsJob() {
		return nil, errors.Errorf("%s is not a job", kind)
	}
	return &Message{Kind: kind, Job: job}, nil
}

// NewRequest creates a load or index request with a fresh correlation id.
func (f *Factory) NewRequest(kind Kind, job *JobParams) (*Message, error) {
	if kind != KindLoadRequest && kind != KindIndexRequest {
		return nil, errors.Errorf("%s is not a job request", kind)
	}
	return &Message{Kind: kind, ID: f.NextID(), Job: job}, nil
}

// NewSampleRequest creates a sample request for a job.
func (f *Factory) NewSampleRequest(jobID int64) *Message {
	return &Message{Kind: KindSampleRequest, ID: f.NextID(), Sample: &SampleRequest{JobID: jobID}}
}

// Reassign gives a split request a fresh correlation id so each client's
// copy can be answered independently.
func (f *Factory) Reassign(m *Message) *Message {
	if m.Kind.IsRequest() {
		m.ID = f.NextID()
	}
	return m
}

// NewResult creates the final result message of a job.
func NewResult(jobID int64, runner string, result *collector.TestResult) *Message {
	return &Message{Kind: KindTestResult, Result: &TestResultPayload{JobID: jobID, Runner: runner, Result: result}}
}

// NewResponseMessage wraps a response.
func NewResponseMessage(r *Response) *Message {
	return &Message{Kind: KindResponse, Response: r}
}
