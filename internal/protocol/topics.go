package protocol

import "fmt"

// Topic builders. Every topic except the global discovery channel is
// namespaced by swarm ID so cross-swarm traffic cannot interfere:
// /<prefix>/s/<swarm_id>/<channel>.

// TopicSwarmDiscovery is the global swarm discovery topic, shared across all
// swarms on the network.
func TopicSwarmDiscovery() string {
	return TopicPrefix + "/swarm/discovery"
}

// TopicSwarmAnnounce is the per-swarm announcement channel.
func TopicSwarmAnnounce(swarmID string) string {
	return fmt.Sprintf("%s/s/%s/swarm_announce", TopicPrefix, swarmID)
}

// TopicElectionTier1 carries candidacy and election-vote notifications.
func TopicElectionTier1(swarmID string) string {
	return fmt.Sprintf("%s/s/%s/election/tier1", TopicPrefix, swarmID)
}

// TopicHierarchy carries tier assignments and succession announcements.
func TopicHierarchy(swarmID string) string {
	return fmt.Sprintf("%s/s/%s/hierarchy", TopicPrefix, swarmID)
}

// TopicKeepalive carries leader heartbeats.
func TopicKeepalive(swarmID string) string {
	return fmt.Sprintf("%s/s/%s/keepalive", TopicPrefix, swarmID)
}

// TopicProposals carries proposal commits and reveals for one task.
func TopicProposals(swarmID, taskID string) string {
	return fmt.Sprintf("%s/s/%s/proposals/%s", TopicPrefix, swarmID, taskID)
}

// TopicVoting carries ranked-choice ballots for one task.
func TopicVoting(swarmID, taskID string) string {
	return fmt.Sprintf("%s/s/%s/voting/%s", TopicPrefix, swarmID, taskID)
}

// TopicTasks carries task announcements for one tier.
func TopicTasks(swarmID string, tier int) string {
	return fmt.Sprintf("%s/s/%s/tasks/tier%d", TopicPrefix, swarmID, tier)
}

// TopicContent carries content-provider advertisements.
func TopicContent(swarmID string) string {
	return fmt.Sprintf("%s/s/%s/content", TopicPrefix, swarmID)
}

// TopicResults carries result submissions and verification verdicts for one
// task.
func TopicResults(swarmID, taskID string) string {
	return fmt.Sprintf("%s/s/%s/results/%s", TopicPrefix, swarmID, taskID)
}
