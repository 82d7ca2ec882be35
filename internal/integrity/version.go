package integrity

import (
	"context"
	"fmt"

	"fieldid/internal/authority"
	"fieldid/internal/store"
)

const (
	MsgVersionUnavailable = "Unable to get the latest version from API server."
	MsgVersionMissing     = "API server did not report a latest version."
	msgVersionOutdated    = "Found the latest version (%s). Current version %s"
	msgVersionCurrent     = "Currently using the latest version (%s)"
)

// Versioner returns the authority's latest published version.
type Versioner interface {
	Version(ctx context.Context) (string, error)
}

// Version passes when the published version equals the local one exactly.
type Version struct {
	client Versioner
	local  string
	env    Env
}

func NewVersion(client Versioner, local string, env Env) *Version {
	return &Version{client: client, local: local, env: env}
}

func (v *Version) Name() string     { return "version" }
func (v *Version) Failure() Outcome { return VersionMismatch }

func (v *Version) Check(ctx context.Context) Result {
	remote, err := v.client.Version(ctx)
	switch {
	case err != nil:
		v.env.write(ctx, store.StreamApp, systemErrorEntry(MsgVersionUnavailable))
		return fail(v, authority.KindOf(err), err.Error(), err)
	case remote == "":
		v.env.write(ctx, store.StreamApp, systemErrorEntry(MsgVersionMissing))
		return fail(v, authority.KindDataIntegrity, "no remote version", nil)
	case remote != v.local:
		v.env.write(ctx, store.StreamApp, store.Entry{
			Severity:   store.SeverityWarning,
			UserCaused: true,
			Message:    fmt.Sprintf(msgVersionOutdated, remote, v.local),
		})
		return fail(v, authority.KindPolicyViolation, fmt.Sprintf("remote %s, local %s", remote, v.local), nil)
	}

	v.env.write(ctx, store.StreamApp, successEntry(fmt.Sprintf(msgVersionCurrent, remote)))
	return pass(v.Name())
}

func (v *Version) failureEntry() (store.Stream, store.Entry) {
	return store.StreamApp, systemErrorEntry(MsgVersionUnavailable)
}
