package regression

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// JUnit XML document shapes, close enough to the de facto schema for CI
// systems to ingest.
type junitTestSuite struct {
	XMLName  xml.Name        `xml:"testsuite"`
	Name     string          `xml:"name,attr"`
	Tests    int             `xml:"tests,attr"`
	Failures int             `xml:"failures,attr"`
	Time     string          `xml:"time,attr"`
	Cases    []junitTestCase `xml:"testcase"`
}

type junitTestCase struct {
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
}

type junitFailure struct {
	Message string `xml:"message,attr"`
	Body    string `xml:",chardata"`
}

// JUnitXML renders the run as a JUnit-style report, one testcase per
// question.
func (r *Result) JUnitXML() ([]byte, error) {
	suite := junitTestSuite{
		Name:     r.Set,
		Tests:    len(r.Questions),
		Failures: r.FailCount,
		Time:     fmt.Sprintf("%.3f", float64(r.TotalLatencyMS)/1000),
	}
	for _, q := range r.Questions {
		tc := junitTestCase{
			Name:      q.Question,
			ClassName: r.View,
			Time:      fmt.Sprintf("%.3f", float64(q.LatencyMS)/1000),
		}
		if !q.Passed {
			tc.Failure = &junitFailure{
				Message: "expectations not met",
				Body:    strings.Join(q.Failures, "\n"),
			}
		}
		suite.Cases = append(suite.Cases, tc)
	}

	out, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(out, '\n')...), nil
}
