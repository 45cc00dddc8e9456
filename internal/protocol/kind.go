// Package protocol defines the messages exchanged between the console and
// runners, how a job is divided among them, and the task each job runs.
package protocol

import (
	"fmt"
	"strings"
)

// Kind is the stable wire type id of a message.
type Kind int

const (
	KindClear                  Kind = 1
	KindPut                    Kind = 2
	KindGet                    Kind = 3
	KindRun                    Kind = 4
	KindTestResult             Kind = 5
	KindSampleRequest          Kind = 6
	KindPutMixed               Kind = 7
	KindPutMixedContent        Kind = 8
	KindPutMixedComplexContent Kind = 9
	KindResponse               Kind = 10
	KindPut2Serv               Kind = 22
	KindGet2Serv               Kind = 31
	KindLoadRequest            Kind = 100
	KindIndexRequest           Kind = 101
	KindBench                  Kind = 1000
	KindQuery                  Kind = 1001
	KindDistinct               Kind = 1002
)

var kindNames = map[Kind]string{
	KindClear:                  "clear",
	KindPut:                    "put",
	KindGet:                    "get",
	KindRun:                    "run",
	KindTestResult:             "result",
	KindSampleRequest:          "sample",
	KindPutMixed:               "putmixed",
	KindPutMixedContent:        "putmixedcontent",
	KindPutMixedComplexContent: "putmixedcomplexcontent",
	KindResponse:               "response",
	KindPut2Serv:               "put2serv",
	KindGet2Serv:               "get2serv",
	KindLoadRequest:            "load",
	KindIndexRequest:           "index",
	KindBench:                  "bench",
	KindQuery:                  "query",
	KindDistinct:               "distinct",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a console command name to its kind.
func ParseKind(name string) (Kind, bool) {
	name = strings.ToLower(name)
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// IsJob reports whether k is a fire-and-forget test job answered by a
// TestResult message once the runner's threads finish.
func (k Kind) IsJob() bool {
	switch k {
	case KindClear, KindPut, KindGet, KindRun, KindPutMixed, KindPutMixedContent,
		KindPutMixedComplexContent, KindPut2Serv, KindGet2Serv, KindBench, KindQuery, KindDistinct:
		return true
	}
	return false
}

// IsRequest reports whether k carries a correlation id and expects a Response.
func (k Kind) IsRequest() bool {
	switch k {
	case KindSampleRequest, KindLoadRequest, KindIndexRequest:
		return true
	}
	return false
}

// IsKeyRange reports whether a job of kind k operates on a key range that is
// divided among runners and threads.
func (k Kind) IsKeyRange() bool {
	switch k {
	case KindPut, KindGet, KindRun, KindPutMixed, KindPutMixedContent,
		KindPutMixedComplexContent, KindPut2Serv, KindGet2Serv, KindBench, KindLoadRequest:
		return true
	}
	return false
}
