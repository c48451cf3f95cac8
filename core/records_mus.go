package core

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the records kept in the stores. Fields are written in
// declaration order; appending a field changes the format.
var (
	IDMUS               mus.Serializer[ID]               = idMUS{}
	DocumentMUS         mus.Serializer[Document]         = documentMUS{}
	ChunkMUS            mus.Serializer[Chunk]            = chunkMUS{}
	ConversationTurnMUS mus.Serializer[ConversationTurn] = conversationTurnMUS{}
	MetricsSnapshotMUS  mus.Serializer[MetricsSnapshot]  = metricsSnapshotMUS{}
	AggregateStateMUS   mus.Serializer[AggregateState]   = aggregateStateMUS{}
)

var errBadLength = errors.New("mus: bad length")

// writer marshals consecutive fields into bs.
type writer struct {
	bs []byte
	n  int
}

func put[T any](w *writer, ser mus.Serializer[T], v T) {
	w.n += ser.Marshal(v, w.bs[w.n:])
}

// reader unmarshals consecutive fields from bs and keeps the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func get[T any](r *reader, ser mus.Serializer[T]) (v T) {
	if r.err != nil {
		return v
	}
	var n int
	v, n, r.err = ser.Unmarshal(r.bs[r.n:])
	r.n += n
	return v
}

// skip implements Skip by decoding, for records that are never skipped on a
// hot path.
func skip[T any](ser mus.Serializer[T], bs []byte) (int, error) {
	_, n, err := ser.Unmarshal(bs)
	return n, err
}

type idMUS struct{}

func (idMUS) Marshal(id ID, bs []byte) int { return raw.Uint64.Marshal(uint64(id), bs) }

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := raw.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

func (idMUS) Size(id ID) int { return raw.Uint64.Size(uint64(id)) }

func (idMUS) Skip(bs []byte) (int, error) { return raw.Uint64.Skip(bs) }

// timeMUS keeps seconds and nanoseconds so any time.Time survives, in UTC.
type timeMUS struct{}

func (timeMUS) Marshal(t time.Time, bs []byte) int {
	n := varint.Int64.Marshal(t.Unix(), bs)
	return n + varint.Int.Marshal(t.Nanosecond(), bs[n:])
}

func (timeMUS) Unmarshal(bs []byte) (time.Time, int, error) {
	r := reader{bs: bs}
	sec := get[int64](&r, varint.Int64)
	nsec := get[int](&r, varint.Int)
	if r.err != nil {
		return time.Time{}, r.n, r.err
	}
	return time.Unix(sec, int64(nsec)).UTC(), r.n, nil
}

func (timeMUS) Size(t time.Time) int {
	return varint.Int64.Size(t.Unix()) + varint.Int.Size(t.Nanosecond())
}

func (s timeMUS) Skip(bs []byte) (int, error) { return skip[time.Time](s, bs) }

type durationMUS struct{}

func (durationMUS) Marshal(d time.Duration, bs []byte) int { return varint.Int64.Marshal(int64(d), bs) }

func (durationMUS) Unmarshal(bs []byte) (time.Duration, int, error) {
	v, n, err := varint.Int64.Unmarshal(bs)
	return time.Duration(v), n, err
}

func (durationMUS) Size(d time.Duration) int { return varint.Int64.Size(int64(d)) }

func (durationMUS) Skip(bs []byte) (int, error) { return varint.Int64.Skip(bs) }

type roleMUS struct{}

func (roleMUS) Marshal(r Role, bs []byte) int { return ord.String.Marshal(string(r), bs) }

func (roleMUS) Unmarshal(bs []byte) (Role, int, error) {
	v, n, err := ord.String.Unmarshal(bs)
	return Role(v), n, err
}

func (roleMUS) Size(r Role) int { return ord.String.Size(string(r)) }

func (roleMUS) Skip(bs []byte) (int, error) { return ord.String.Skip(bs) }

// stringsMUS writes a length followed by the strings. Decoding yields nil for
// an empty list.
type stringsMUS struct{}

func (stringsMUS) Marshal(v []string, bs []byte) int {
	w := writer{bs: bs}
	put(&w, varint.Int, len(v))
	for _, s := range v {
		put(&w, ord.String, s)
	}
	return w.n
}

func (stringsMUS) Unmarshal(bs []byte) ([]string, int, error) {
	r := reader{bs: bs}
	length := get[int](&r, varint.Int)
	if r.err != nil || length == 0 {
		return nil, r.n, r.err
	}
	if length < 0 || length > len(bs) {
		return nil, r.n, errBadLength
	}
	v := make([]string, length)
	for i := range v {
		v[i] = get[string](&r, ord.String)
	}
	if r.err != nil {
		return nil, r.n, r.err
	}
	return v, r.n, nil
}

func (stringsMUS) Size(v []string) int {
	size := varint.Int.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return size
}

func (s stringsMUS) Skip(bs []byte) (int, error) { return skip[[]string](s, bs) }

type documentMUS struct{}

func (documentMUS) Marshal(d Document, bs []byte) int {
	w := writer{bs: bs}
	put(&w, ord.String, d.ID)
	put(&w, ord.String, d.Text)
	put(&w, ord.String, d.Source.Filename)
	put(&w, ord.String, d.Source.Section)
	put(&w, IDMUS, d.Fingerprint)
	return w.n
}

func (documentMUS) Unmarshal(bs []byte) (d Document, n int, err error) {
	r := reader{bs: bs}
	d.ID = get[string](&r, ord.String)
	d.Text = get[string](&r, ord.String)
	d.Source.Filename = get[string](&r, ord.String)
	d.Source.Section = get[string](&r, ord.String)
	d.Fingerprint = get[ID](&r, IDMUS)
	return d, r.n, r.err
}

func (documentMUS) Size(d Document) int {
	return ord.String.Size(d.ID) +
		ord.String.Size(d.Text) +
		ord.String.Size(d.Source.Filename) +
		ord.String.Size(d.Source.Section) +
		IDMUS.Size(d.Fingerprint)
}

func (s documentMUS) Skip(bs []byte) (int, error) { return skip[Document](s, bs) }

type chunkMUS struct{}

func (chunkMUS) Marshal(c Chunk, bs []byte) int {
	w := writer{bs: bs}
	put(&w, ord.String, c.ID)
	put(&w, ord.String, c.DocumentID)
	put(&w, varint.Int, c.Sequence)
	put(&w, ord.String, c.Text)
	put(&w, varint.Int, c.StartOffset)
	put(&w, varint.Int, c.EndOffset)
	put(&w, varint.Int, c.TokenCount)
	put(&w, ord.Bool, c.Oversized)
	return w.n
}

func (chunkMUS) Unmarshal(bs []byte) (c Chunk, n int, err error) {
	r := reader{bs: bs}
	c.ID = get[string](&r, ord.String)
	c.DocumentID = get[string](&r, ord.String)
	c.Sequence = get[int](&r, varint.Int)
	c.Text = get[string](&r, ord.String)
	c.StartOffset = get[int](&r, varint.Int)
	c.EndOffset = get[int](&r, varint.Int)
	c.TokenCount = get[int](&r, varint.Int)
	c.Oversized = get[bool](&r, ord.Bool)
	return c, r.n, r.err
}

func (chunkMUS) Size(c Chunk) int {
	return ord.String.Size(c.ID) +
		ord.String.Size(c.DocumentID) +
		varint.Int.Size(c.Sequence) +
		ord.String.Size(c.Text) +
		varint.Int.Size(c.StartOffset) +
		varint.Int.Size(c.EndOffset) +
		varint.Int.Size(c.TokenCount) +
		ord.Bool.Size(c.Oversized)
}

func (s chunkMUS) Skip(bs []byte) (int, error) { return skip[Chunk](s, bs) }

type conversationTurnMUS struct{}

func (conversationTurnMUS) Marshal(t ConversationTurn, bs []byte) int {
	w := writer{bs: bs}
	put[Role](&w, roleMUS{}, t.Role)
	put(&w, ord.String, t.Text)
	put[[]string](&w, stringsMUS{}, t.RetrievedChunkIDs)
	put[time.Time](&w, timeMUS{}, t.Timestamp)
	return w.n
}

func (conversationTurnMUS) Unmarshal(bs []byte) (t ConversationTurn, n int, err error) {
	r := reader{bs: bs}
	t.Role = get[Role](&r, roleMUS{})
	t.Text = get[string](&r, ord.String)
	t.RetrievedChunkIDs = get[[]string](&r, stringsMUS{})
	t.Timestamp = get[time.Time](&r, timeMUS{})
	return t, r.n, r.err
}

func (conversationTurnMUS) Size(t ConversationTurn) int {
	return roleMUS{}.Size(t.Role) +
		ord.String.Size(t.Text) +
		stringsMUS{}.Size(t.RetrievedChunkIDs) +
		timeMUS{}.Size(t.Timestamp)
}

func (s conversationTurnMUS) Skip(bs []byte) (int, error) { return skip[ConversationTurn](s, bs) }

type retrievalScoresMUS struct{}

func (retrievalScoresMUS) Marshal(s RetrievalScores, bs []byte) int {
	w := writer{bs: bs}
	for _, f := range [...]float64{s.Precision, s.Recall, s.F1, s.NDCG, s.MRR} {
		put(&w, raw.Float64, f)
	}
	return w.n
}

func (retrievalScoresMUS) Unmarshal(bs []byte) (s RetrievalScores, n int, err error) {
	r := reader{bs: bs}
	s.Precision = get[float64](&r, raw.Float64)
	s.Recall = get[float64](&r, raw.Float64)
	s.F1 = get[float64](&r, raw.Float64)
	s.NDCG = get[float64](&r, raw.Float64)
	s.MRR = get[float64](&r, raw.Float64)
	return s, r.n, r.err
}

func (retrievalScoresMUS) Size(s RetrievalScores) int {
	return 5 * raw.Float64.Size(0)
}

func (s retrievalScoresMUS) Skip(bs []byte) (int, error) { return skip[RetrievalScores](s, bs) }

type rougeScoresMUS struct{}

func (rougeScoresMUS) Marshal(s RougeScores, bs []byte) int {
	w := writer{bs: bs}
	put(&w, raw.Float64, s.Rouge1)
	put(&w, raw.Float64, s.Rouge2)
	put(&w, raw.Float64, s.RougeL)
	return w.n
}

func (rougeScoresMUS) Unmarshal(bs []byte) (s RougeScores, n int, err error) {
	r := reader{bs: bs}
	s.Rouge1 = get[float64](&r, raw.Float64)
	s.Rouge2 = get[float64](&r, raw.Float64)
	s.RougeL = get[float64](&r, raw.Float64)
	return s, r.n, r.err
}

func (rougeScoresMUS) Size(s RougeScores) int {
	return 3 * raw.Float64.Size(0)
}

func (s rougeScoresMUS) Skip(bs []byte) (int, error) { return skip[RougeScores](s, bs) }

type metricsSnapshotMUS struct{}

func (metricsSnapshotMUS) Marshal(s MetricsSnapshot, bs []byte) int {
	w := writer{bs: bs}
	put(&w, ord.String, s.ConversationID)
	put(&w, ord.String, s.Question)
	put[time.Time](&w, timeMUS{}, s.Timestamp)
	put[time.Duration](&w, durationMUS{}, s.Latency)
	put(&w, varint.Int, s.RetrievedCount)
	put(&w, ord.Bool, s.HasRelevant)
	put[RetrievalScores](&w, retrievalScoresMUS{}, s.Retrieval)
	put[RougeScores](&w, rougeScoresMUS{}, s.Groundedness)
	put(&w, ord.Bool, s.HasGroundTruth)
	put[RougeScores](&w, rougeScoresMUS{}, s.Correctness)
	put(&w, ord.Bool, s.ExactMatch)
	put(&w, raw.Float64, s.CosineSimilarity)
	put(&w, raw.Float64, s.AnswerAccuracy)
	put(&w, ord.Bool, s.HasPreviousAnswer)
	put(&w, raw.Float64, s.ContextRetention)
	put(&w, varint.Int, s.QueryTokens)
	put(&w, varint.Int, s.ContextTokens)
	put(&w, varint.Int, s.AnswerTokens)
	return w.n
}

func (metricsSnapshotMUS) Unmarshal(bs []byte) (s MetricsSnapshot, n int, err error) {
	r := reader{bs: bs}
	s.ConversationID = get[string](&r, ord.String)
	s.Question = get[string](&r, ord.String)
	s.Timestamp = get[time.Time](&r, timeMUS{})
	s.Latency = get[time.Duration](&r, durationMUS{})
	s.RetrievedCount = get[int](&r, varint.Int)
	s.HasRelevant = get[bool](&r, ord.Bool)
	s.Retrieval = get[RetrievalScores](&r, retrievalScoresMUS{})
	s.Groundedness = get[RougeScores](&r, rougeScoresMUS{})
	s.HasGroundTruth = get[bool](&r, ord.Bool)
	s.Correctness = get[RougeScores](&r, rougeScoresMUS{})
	s.ExactMatch = get[bool](&r, ord.Bool)
	s.CosineSimilarity = get[float64](&r, raw.Float64)
	s.AnswerAccuracy = get[float64](&r, raw.Float64)
	s.HasPreviousAnswer = get[bool](&r, ord.Bool)
	s.ContextRetention = get[float64](&r, raw.Float64)
	s.QueryTokens = get[int](&r, varint.Int)
	s.ContextTokens = get[int](&r, varint.Int)
	s.AnswerTokens = get[int](&r, varint.Int)
	return s, r.n, r.err
}

func (metricsSnapshotMUS) Size(s MetricsSnapshot) int {
	return ord.String.Size(s.ConversationID) +
		ord.String.Size(s.Question) +
		timeMUS{}.Size(s.Timestamp) +
		durationMUS{}.Size(s.Latency) +
		varint.Int.Size(s.RetrievedCount) +
		4*ord.Bool.Size(false) +
		retrievalScoresMUS{}.Size(s.Retrieval) +
		2*rougeScoresMUS{}.Size(RougeScores{}) +
		3*raw.Float64.Size(0) +
		varint.Int.Size(s.QueryTokens) +
		varint.Int.Size(s.ContextTokens) +
		varint.Int.Size(s.AnswerTokens)
}

func (s metricsSnapshotMUS) Skip(bs []byte) (int, error) { return skip[MetricsSnapshot](s, bs) }

type aggregateStateMUS struct{}

func (aggregateStateMUS) Marshal(s AggregateState, bs []byte) int {
	w := writer{bs: bs}
	for _, c := range [...]int{s.Questions, s.SuccessfulRetrievals, s.WithRelevant,
		s.WithGroundTruth, s.WithPreviousAnswer, s.ExactMatches} {
		put(&w, varint.Int, c)
	}
	put[RetrievalScores](&w, retrievalScoresMUS{}, s.Retrieval)
	put[RougeScores](&w, rougeScoresMUS{}, s.Correctness)
	put[RougeScores](&w, rougeScoresMUS{}, s.Groundedness)
	for _, f := range [...]float64{s.CosineSimilarity, s.AnswerAccuracy, s.ContextRetention, s.LatencyMillis} {
		put(&w, raw.Float64, f)
	}
	put(&w, varint.Int, s.Tokens)
	return w.n
}

func (aggregateStateMUS) Unmarshal(bs []byte) (s AggregateState, n int, err error) {
	r := reader{bs: bs}
	s.Questions = get[int](&r, varint.Int)
	s.SuccessfulRetrievals = get[int](&r, varint.Int)
	s.WithRelevant = get[int](&r, varint.Int)
	s.WithGroundTruth = get[int](&r, varint.Int)
	s.WithPreviousAnswer = get[int](&r, varint.Int)
	s.ExactMatches = get[int](&r, varint.Int)
	s.Retrieval = get[RetrievalScores](&r, retrievalScoresMUS{})
	s.Correctness = get[RougeScores](&r, rougeScoresMUS{})
	s.Groundedness = get[RougeScores](&r, rougeScoresMUS{})
	s.CosineSimilarity = get[float64](&r, raw.Float64)
	s.AnswerAccuracy = get[float64](&r, raw.Float64)
	s.ContextRetention = get[float64](&r, raw.Float64)
	s.LatencyMillis = get[float64](&r, raw.Float64)
	s.Tokens = get[int](&r, varint.Int)
	return s, r.n, r.err
}

func (aggregateStateMUS) Size(s AggregateState) int {
	size := 0
	for _, c := range [...]int{s.Questions, s.SuccessfulRetrievals, s.WithRelevant,
		s.WithGroundTruth, s.WithPreviousAnswer, s.ExactMatches, s.Tokens} {
		size += varint.Int.Size(c)
	}
	return size +
		retrievalScoresMUS{}.Size(s.Retrieval) +
		2*rougeScoresMUS{}.Size(RougeScores{}) +
		4*raw.Float64.Size(0)
}

func (s aggregateStateMUS) Skip(bs []byte) (int, error) { return skip[AggregateState](s, bs) }
