// Package routing implements the cross-instance routing runtime: instance
// presence, session/node ownership leases, inbox streams with consumer
// groups and a dead-letter queue, distributed locks and reservations,
// pool-leader election and node snapshot propagation — all backed by Redis.
//
// Same-slot hash tags (the `{...}` segments below) keep every key touched by
// one atomic script on the same Redis Cluster slot, per the scheduler's
// single-slot-script design constraint.
package routing

import "fmt"

// keySchema builds every Redis key used by the routing runtime. All keys sit
// under one versioned prefix (default "v1") except the session
// max-duration affinity key, which has a fixed "scheduler:session:" form.
type keySchema struct {
	prefix string
}

func newKeySchema(prefix string) keySchema {
	if prefix == "" {
		prefix = "v1"
	}
	return keySchema{prefix: prefix}
}

func (k keySchema) instancePresence(instanceID string) string {
	return fmt.Sprintf("%s:schedulers:presence:%s", k.prefix, instanceID)
}

func (k keySchema) nodeOwner(nodeID string) string {
	return fmt.Sprintf("%s:nodes:owner:{node:%s}", k.prefix, nodeID)
}

func (k keySchema) sessionOwner(sessionID string) string {
	return fmt.Sprintf("%s:sessions:owner:{session:%s}", k.prefix, sessionID)
}

func (k keySchema) nodesAll() string { return fmt.Sprintf("%s:nodes:all", k.prefix) }

func (k keySchema) nodesLastSeen() string { return fmt.Sprintf("%s:nodes:last_seen", k.prefix) }

func (k keySchema) nodePresence(nodeID string) string {
	return fmt.Sprintf("%s:nodes:presence:{node:%s}", k.prefix, nodeID)
}

func (k keySchema) nodeSnapshot(nodeID string) string {
	return fmt.Sprintf("%s:nodes:snapshot:{node:%s}", k.prefix, nodeID)
}

func (k keySchema) nodeReservation(nodeID string) string {
	return fmt.Sprintf("%s:nodes:reserved:{node:%s}", k.prefix, nodeID)
}

func (k keySchema) jobFSM(jobID string) string {
	return fmt.Sprintf("%s:jobs:fsm:{job:%s}", k.prefix, jobID)
}

func (k keySchema) requestBinding(reqID string) string {
	return fmt.Sprintf("%s:bind:{req:%s}", k.prefix, reqID)
}

func (k keySchema) requestLock(reqID string) string {
	return fmt.Sprintf("%s:locks:{req:%s}", k.prefix, reqID)
}

func (k keySchema) debounceModelUnavailable(svc, version string) string {
	return fmt.Sprintf("%s:debounce:model_unavailable:%s@%s", k.prefix, svc, version)
}

func (k keySchema) rateLimitModelNA(nodeID string) string {
	return fmt.Sprintf("%s:ratelimit:node:%s:model_na", k.prefix, nodeID)
}

func (k keySchema) poolsConfig() string { return fmt.Sprintf("%s:phase3:pools:config", k.prefix) }

func (k keySchema) poolsVersion() string { return fmt.Sprintf("%s:phase3:pools:version", k.prefix) }

func (k keySchema) poolsLeader() string { return fmt.Sprintf("%s:phase3:pools:leader", k.prefix) }

func (k keySchema) poolMembers(poolName string) string {
	return fmt.Sprintf("%s:pool:%s:members", k.prefix, poolName)
}

func (k keySchema) sessionMaxDurationNode(sessionID string) string {
	return fmt.Sprintf("scheduler:session:%s.max_duration_node_id", sessionID)
}

func (k keySchema) instanceInbox(instanceID string) string {
	return fmt.Sprintf("%s:streams:{instance:%s}:inbox", k.prefix, instanceID)
}

func (k keySchema) instanceDLQ(instanceID string) string {
	return fmt.Sprintf("%s:streams:{instance:%s}:dlq", k.prefix, instanceID)
}
