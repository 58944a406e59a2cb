package temporal

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	ngsierrors "github.com/diwise/graph-broker/pkg/ngsild/errors"
)

type Timerel string

const (
	Before  Timerel = "BEFORE"
	After   Timerel = "AFTER"
	Between Timerel = "BETWEEN"
)

type Aggregate string

const (
	Avg   Aggregate = "AVG"
	Sum   Aggregate = "SUM"
	Count Aggregate = "COUNT"
	Min   Aggregate = "MIN"
	Max   Aggregate = "MAX"
)

const (
	DefaultLimit int = 30
	MaxLimit     int = 100
)

var timeBucketPattern = regexp.MustCompile(`^[1-9][0-9]* (second|minute|hour|day|week|month|year)s?$`)

type TemporalQuery struct {
	Attrs      []string
	Timerel    Timerel
	Time       *time.Time
	EndTime    *time.Time
	TimeBucket string
	Aggregate  Aggregate
	LastN      int
}

func (q TemporalQuery) IsAggregated() bool {
	return q.Aggregate != ""
}

// Validate checks that the parameters of the query can be combined
func (q TemporalQuery) Validate() error {
	switch q.Timerel {
	case "":
		if q.Time != nil {
			return ngsierrors.NewBadRequestDataError("'timerel' and 'time' must be used in conjunction")
		}
	case Before, After:
		if q.Time == nil {
			return ngsierrors.NewBadRequestDataError("'timerel' and 'time' must be used in conjunction")
		}
	case Between:
		if q.Time == nil {
			return ngsierrors.NewBadRequestDataError("'timerel' and 'time' must be used in conjunction")
		}
		if q.EndTime == nil {
			return ngsierrors.NewBadRequestDataError("'endTime' request parameter is mandatory if 'timerel' is 'between'")
		}
		if !q.EndTime.After(*q.Time) {
			return ngsierrors.NewBadRequestDataError("'endTime' must be after 'time'")
		}
	default:
		return ngsierrors.NewBadRequestDataError(fmt.Sprintf("'timerel' is not valid, it should be one of 'before', 'between', or 'after': %s", q.Timerel))
	}

	if (q.TimeBucket == "") != (q.Aggregate == "") {
		return ngsierrors.NewBadRequestDataError("'timeBucket' and 'aggregate' must be used in conjunction")
	}

	if q.Aggregate != "" {
		switch q.Aggregate {
		case Avg, Sum, Count, Min, Max:
		default:
			return ngsierrors.NewBadRequestDataError(fmt.Sprintf("Value '%s' is not supported for 'aggregate' parameter", q.Aggregate))
		}

		if !timeBucketPattern.MatchString(q.TimeBucket) {
			return ngsierrors.NewBadRequestDataError(fmt.Sprintf("'timeBucket' is not a supported interval: %s", q.TimeBucket))
		}
	}

	if q.LastN < 0 {
		return ngsierrors.NewBadRequestDataError("'lastN' must be a positive integer")
	}

	return nil
}

type TemporalEntitiesQuery struct {
	IDs           []string
	Types         []string
	TemporalQuery TemporalQuery
	Limit         int
	Offset        int
	Count         bool
}

// ExpandFunc turns a compacted term from a request into its expanded form
type ExpandFunc func(term string) string

// ParseTemporalQuery reads the temporal query parameters of a request. Both
// the NGSI-LD names (timeAt, endTimeAt) and the short ones (time, endTime) are
// accepted.
func ParseTemporalQuery(params url.Values, expand ExpandFunc) (TemporalQuery, error) {
	q := TemporalQuery{
		Attrs:      expandAll(splitList(params.Get("attrs")), expand),
		Timerel:    Timerel(strings.ToUpper(params.Get("timerel"))),
		TimeBucket: params.Get("timeBucket"),
		Aggregate:  Aggregate(strings.ToUpper(params.Get("aggregate"))),
	}

	var err error

	if q.Time, err = timeParam(params, "timeAt", "time"); err != nil {
		return q, err
	}

	if q.EndTime, err = timeParam(params, "endTimeAt", "endTime"); err != nil {
		return q, err
	}

	if lastN := params.Get("lastN"); lastN != "" {
		q.LastN, err = strconv.Atoi(lastN)
		if err != nil || q.LastN < 1 {
			return q, ngsierrors.NewBadRequestDataError("'lastN' must be a positive integer")
		}
	}

	return q, q.Validate()
}

// ParseTemporalEntitiesQuery reads the parameters of a query spanning several
// entities. A type or an attribute list is required and so is a time relation.
func ParseTemporalEntitiesQuery(params url.Values, expand ExpandFunc) (TemporalEntitiesQuery, error) {
	q := TemporalEntitiesQuery{
		IDs:    splitList(params.Get("id")),
		Types:  expandAll(splitList(params.Get("type")), expand),
		Limit:  DefaultLimit,
		Offset: 0,
		Count:  params.Get("count") == "true",
	}

	var err error

	if q.TemporalQuery, err = ParseTemporalQuery(params, expand); err != nil {
		return q, err
	}

	if len(q.Types) == 0 && len(q.TemporalQuery.Attrs) == 0 {
		return q, ngsierrors.NewBadRequestDataError("Either type or attrs need to be present in request parameters")
	}

	if q.TemporalQuery.Timerel == "" {
		return q, ngsierrors.NewBadRequestDataError("'timerel' and 'time' request parameters are mandatory")
	}

	if limit := params.Get("limit"); limit != "" {
		q.Limit, err = strconv.Atoi(limit)
		if err != nil || q.Limit < 1 || q.Limit > MaxLimit {
			return q, ngsierrors.NewBadRequestDataError(fmt.Sprintf("'limit' must be a strictly positive integer not greater than %d", MaxLimit))
		}
	}

	if offset := params.Get("offset"); offset != "" {
		q.Offset, err = strconv.Atoi(offset)
		if err != nil || q.Offset < 0 {
			return q, ngsierrors.NewBadRequestDataError("'offset' must be a positive integer")
		}
	}

	return q, nil
}

func timeParam(params url.Values, names ...string) (*time.Time, error) {
	for _, name := range names {
		value := params.Get(name)
		if value == "" {
			continue
		}

		t, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return nil, ngsierrors.NewBadRequestDataError(fmt.Sprintf("'%s' parameter is not a valid date: %s", name, value))
		}

		t = t.UTC()
		return &t, nil
	}

	return nil, nil
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}

	list := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}

	return list
}

func expandAll(terms []string, expand ExpandFunc) []string {
	if expand == nil {
		return terms
	}

	for i := range terms {
		terms[i] = expand(terms[i])
	}

	return terms
}
