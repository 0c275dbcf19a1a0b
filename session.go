package mikrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/denisbrodbeck/mikrator/changelog"
	"github.com/denisbrodbeck/mikrator/dialect"
	"github.com/denisbrodbeck/mikrator/ledger"
	"github.com/denisbrodbeck/mikrator/snapshot"
	"go.uber.org/zap"
)

// session is the state of one operation on a changelog.
type session struct {
	m     *Mikrator
	cl    *changelog.ChangeLog
	cfg   *runConfig
	props *changelog.Properties
	rows  []ledger.RanChangeSet
	ran   map[string]ledger.RanChangeSet
	// sql is set when SQL is written instead of executed.
	sql *sqlExecutor
}

func (m *Mikrator) newSession(ctx context.Context, cl *changelog.ChangeLog, options []RunOption) (*session, error) {
	if cl == nil {
		return nil, errNoChangeLog
	}
	cfg := m.runConfig(options)
	props, err := changelog.ResolveProperties(cl.Properties, cfg.params, changelog.Scope{
		Contexts:    cfg.contexts,
		LabelFilter: cfg.labels,
		DBMS:        m.dialect.Name(),
	})
	if err != nil {
		return nil, err
	}
	cl = cl.ForDBMS(m.dialect.Name())

	s := &session{m: m, cl: cl, cfg: cfg, props: props}
	if err := s.reload(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// writeTo switches the session to SQL output.
func (s *session) writeTo(w io.Writer) {
	s.sql = &sqlExecutor{m: s.m, env: changelog.Env{Dialect: s.m.dialect, Expand: s.props.Expand}, w: w}
}

// reload reads the ledger.
func (s *session) reload(ctx context.Context) error {
	rows, err := s.m.ran(ctx)
	if err != nil {
		return err
	}
	s.rows = rows
	s.ran = make(map[string]ledger.RanChangeSet, len(rows))
	for _, r := range rows {
		s.ran[key(r.Path, r.ID, r.Author)] = r
	}
	return nil
}

// key normalizes a changeset identity for lookups.
func key(path, id, author string) string {
	path = strings.TrimPrefix(strings.Replace(path, `\`, "/", -1), "classpath:")
	return path + "::" + id + "::" + author
}

func csKey(cs *changelog.ChangeSet) string { return key(cs.Path(), cs.ID, cs.Author) }

func (s *session) env(cs *changelog.ChangeSet) changelog.Env {
	return changelog.Env{Dialect: s.m.dialect.WithQuoting(s.cl.QuotingFor(cs)), Expand: s.props.Expand}
}

func (s *session) executor(cs *changelog.ChangeSet, db changelog.Querier) changelog.Executor {
	if s.sql != nil {
		return &sqlExecutor{m: s.m, env: s.env(cs), w: s.sql.w}
	}
	return &dbExecutor{m: s.m, env: s.env(cs), db: db}
}

// lookup returns the changeset recorded in r or nil.
func (s *session) lookup(r ledger.RanChangeSet) *changelog.ChangeSet {
	return s.cl.ChangeSet(r.Path, r.ID, r.Author)
}

// filter returns why cs does not apply to this run or an empty string.
func (s *session) filter(cs *changelog.ChangeSet) (string, error) {
	if cs.Ignore {
		return "ignored", nil
	}
	for _, expr := range []string{s.cl.ContextFilter, cs.ContextFilter} {
		ok, err := changelog.MatchContexts(expr, s.cfg.contexts)
		if err != nil {
			return "", fmt.Errorf("changeset %s: invalid context %q: %w", cs.Identifier(), expr, err)
		}
		if !ok {
			return "context mismatch", nil
		}
	}
	ok, err := changelog.MatchLabels(s.cfg.labels, cs.Labels)
	if err != nil {
		return "", fmt.Errorf("invalid label filter %q: %w", s.cfg.labels, err)
	}
	if !ok {
		return "label mismatch", nil
	}
	if !changelog.MatchDBMS(cs.DBMS, s.m.dialect.Name()) {
		return "dbms mismatch", nil
	}
	return "", nil
}

// validate checks the changelog against the database. It returns the
// identifiers of changesets which are invalid but marked ran on
// validation failure.
func (s *session) validate() (map[string]bool, error) {
	verr := &ValidationError{Invalid: map[string]error{}}
	if !s.m.allowDuplicates {
		verr.Duplicates = s.cl.Duplicates()
	}
	markRan := map[string]bool{}
	for _, cs := range s.cl.ChangeSets {
		id := csKey(cs)
		prior, ran := s.ran[id]
		if ran && prior.Checksum != "" && !cs.RunOnChange && !cs.ValidChecksum(prior.Checksum) {
			verr.ChecksumMismatches = append(verr.ChecksumMismatches, cs.Identifier())
		}
		if ran && !cs.RunAlways && !cs.RunOnChange {
			continue
		}
		if reason, err := s.filter(cs); err != nil {
			return nil, err
		} else if reason != "" {
			continue
		}
		for _, c := range cs.Changes {
			err := changelog.Validate(c, s.env(cs))
			if err == nil {
				continue
			}
			if cs.OnValidationFail == changelog.ValidationMarkRan {
				s.m.logger.Warn("changeset is invalid and will be marked ran",
					zap.String("changeset", cs.Identifier()), zap.Error(err))
				markRan[id] = true
			} else {
				verr.Invalid[cs.Identifier()] = err
			}
			break
		}
	}
	if !verr.empty() {
		return nil, verr
	}
	return markRan, nil
}

// target limits which pending changesets are planned.
type target struct {
	// limit is the maximum number of changesets, negative for no limit.
	limit int
	// tag stops after the changeset tagging the database with tag.
	tag string
}

var all = target{limit: -1}

// step is a changeset planned to run.
type step struct {
	cs    *changelog.ChangeSet
	exec  ledger.ExecType
	prior *ledger.RanChangeSet
}

// plan returns the changesets an update would run in order and those it
// filters out.
func (s *session) plan(t target, markRan map[string]bool) ([]step, []ChangeSetResult, error) {
	if t.tag != "" && !s.tagged(t.tag) {
		return nil, nil, fmt.Errorf("%w: no changeset tags the database with %q", ErrTagNotFound, t.tag)
	}

	var (
		steps   []step
		skipped []ChangeSetResult
		seen    = map[string]bool{}
	)
	for _, cs := range s.cl.Ordered() {
		if t.limit >= 0 && len(steps) >= t.limit {
			break
		}
		id := csKey(cs)
		reason, err := s.filter(cs)
		if err != nil {
			return nil, nil, err
		}
		if reason == "" && seen[id] {
			reason = "duplicate identifier"
		}
		seen[id] = true

		exec := ledger.Executed
		var prior *ledger.RanChangeSet
		if r, ok := s.ran[id]; ok && reason == "" {
			r := r
			prior = &r
			switch {
			case r.ExecType == ledger.Failed:
			case cs.RunAlways:
				exec = ledger.Reran
			case cs.RunOnChange && r.Checksum != "" && !cs.ValidChecksum(r.Checksum):
				exec = ledger.Reran
			default:
				reason = "already ran"
			}
		}
		if reason != "" {
			skipped = append(skipped, ChangeSetResult{ChangeSet: cs, ExecType: ledger.Skipped, Reason: reason})
		} else {
			if markRan[id] {
				exec = ledger.MarkRan
			}
			steps = append(steps, step{cs: cs, exec: exec, prior: prior})
		}
		if t.tag != "" && cs.Tag() == t.tag {
			break
		}
	}
	return steps, skipped, nil
}

// tagged reports whether a changeset of the changelog tags the database
// with tag.
func (s *session) tagged(tag string) bool {
	for _, cs := range s.cl.ChangeSets {
		if cs.Tag() == tag {
			return true
		}
	}
	return false
}

// record returns the ledger row for cs.
func (s *session) record(cs *changelog.ChangeSet, exec ledger.ExecType, order int, deploymentID string) (ledger.RanChangeSet, error) {
	sum, err := cs.Checksum()
	if err != nil {
		return ledger.RanChangeSet{}, err
	}
	return ledger.RanChangeSet{
		ID:            cs.ID,
		Author:        cs.Author,
		Path:          cs.Path(),
		DateExecuted:  s.m.clock.Now(),
		OrderExecuted: order,
		ExecType:      exec,
		Checksum:      sum,
		Description:   cs.Description(),
		Comments:      cs.Comments,
		Tag:           cs.Tag(),
		Contexts:      cs.ContextFilter,
		Labels:        strings.Join(cs.Labels, ","),
		DeploymentID:  deploymentID,
	}, nil
}

// recordStatements returns the ledger writes storing row.
func (s *session) recordStatements(prior *ledger.RanChangeSet, row ledger.RanChangeSet) []dialect.Statement {
	h := s.m.history
	switch {
	case prior == nil:
		return []dialect.Statement{h.InsertStatement(row)}
	case row.ExecType == ledger.Reran:
		stmts := []dialect.Statement{h.RerunStatement(row)}
		if row.Tag != "" {
			stmts = append(stmts, h.TagStatement(row, row.Tag))
		}
		return stmts
	default:
		return []dialect.Statement{h.DeleteStatement(*prior), h.InsertStatement(row)}
	}
}

// remember updates the in memory ledger after row was written.
func (s *session) remember(row ledger.RanChangeSet) {
	k := key(row.Path, row.ID, row.Author)
	if _, ok := s.ran[k]; !ok {
		s.rows = append(s.rows, row)
	}
	s.ran[k] = row
}

// checkPreconditions evaluates p for cs, nil for the changelog. It returns
// the action to take, empty when p holds.
func (s *session) checkPreconditions(ctx context.Context, p *changelog.Preconditions, cs *changelog.ChangeSet) (changelog.FailOption, error) {
	if p == nil {
		return "", nil
	}
	if s.sql != nil {
		switch p.SQLOutputAction() {
		case changelog.IgnoreInSQLOutput:
			return "", nil
		case changelog.FailInSQLOutput:
			return changelog.Halt, &changelog.Failure{Precondition: "preconditions", Message: "cannot be checked in SQL output"}
		}
	}
	err := p.Check(ctx, s.database(cs))
	if err == nil {
		return "", nil
	}
	action := p.ErrorAction()
	if changelog.IsFailure(err) {
		action = p.FailAction()
	}
	if cs != nil {
		s.cfg.listener.PreconditionFailed(cs, err, action)
	}
	return action, err
}

func (s *session) database(cs *changelog.ChangeSet) *database {
	quoting := s.cl.ObjectQuotingStrategy
	if cs != nil {
		quoting = s.cl.QuotingFor(cs)
	}
	return &database{s: s, quoting: quoting}
}

// database is what preconditions see.
type database struct {
	s       *session
	quoting dialect.QuotingStrategy
}

func (d *database) Dialect() dialect.Dialect { return d.s.m.dialect }

func (d *database) Snapshot(ctx context.Context) (*snapshot.Snapshot, error) {
	return d.s.m.Snapshot(ctx)
}

func (d *database) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.s.m.db.QueryRowContext(ctx, query, args...)
}

func (d *database) ChangeSetRan(path, id, author string) bool {
	r, ok := d.s.ran[key(path, id, author)]
	return ok && r.ExecType != ledger.Failed
}

func (d *database) Property(name string) (string, bool) { return d.s.props.Lookup(name) }
func (d *database) Expand(s string) string              { return d.s.props.Expand(s) }

func (d *database) CurrentUser(ctx context.Context) (string, error) {
	return d.s.m.currentUser(ctx)
}

func (d *database) QuotingStrategy() dialect.QuotingStrategy { return d.quoting }

// currentUser returns the connected user or an empty string when the
// database has no users.
func (m *Mikrator) currentUser(ctx context.Context) (string, error) {
	query := m.dialect.CurrentUserQuery()
	if query == "" {
		return "", nil
	}
	var user string
	if err := m.db.QueryRowContext(ctx, query).Scan(&user); err != nil {
		return "", &DriverError{"failed to query current user", err}
	}
	// mysql reports "user@host"
	if i := strings.IndexByte(user, '@'); i > 0 {
		user = user[:i]
	}
	return user, nil
}

var errNoChangeLog = errors.New("changelog is nil")
