package resourcemgr

import (
	"context"

	"go.uber.org/zap"

	"github.com/sylvia-iot/controlplane/internal/store"
)

// OpenAllPipelines opens the Routing Engine's (C7) receivers for
// every network and application already on record, so a restarted
// process resumes serving traffic instead of waiting for the next
// CRUD call to provision a pipeline. Failures are logged and skipped
// rather than aborting startup, since one misconfigured endpoint
// should not keep every other tenant's traffic from flowing.
func (m *Manager) OpenAllPipelines(ctx context.Context) error {
	networks, _, err := m.stores.Networks.List(ctx, nil, false, "", store.ListOptions{}, nil)
	if err != nil {
		return err
	}
	for _, n := range networks {
		ep, err := m.networkEndpoint(ctx, n)
		if err != nil {
			m.logger.Error("resourcemgr: failed to resolve network endpoint at startup", zap.String("network_id", n.NetworkID), zap.Error(err))
			continue
		}
		if _, _, err := m.engine.OpenNetworkPipelines(ctx, ep); err != nil {
			m.logger.Error("resourcemgr: failed to open network pipelines at startup", zap.String("network_id", n.NetworkID), zap.Error(err))
		}
	}

	apps, _, err := m.stores.Applications.List(ctx, "", "", store.ListOptions{}, nil)
	if err != nil {
		return err
	}
	for _, a := range apps {
		ep, err := m.applicationEndpoint(ctx, a)
		if err != nil {
			m.logger.Error("resourcemgr: failed to resolve application endpoint at startup", zap.String("application_id", a.ApplicationID), zap.Error(err))
			continue
		}
		if _, err := m.engine.OpenApplicationPipeline(ctx, ep); err != nil {
			m.logger.Error("resourcemgr: failed to open application pipeline at startup", zap.String("application_id", a.ApplicationID), zap.Error(err))
		}
	}
	return nil
}
