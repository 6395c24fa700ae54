package protocol

import (
	"strings"
	"testing"
)

func TestTopicsAreSwarmNamespaced(t *testing.T) {
	topics := []string{
		TopicElectionTier1("my-swarm"),
		TopicHierarchy("my-swarm"),
		TopicKeepalive("my-swarm"),
		TopicProposals("my-swarm", "t1"),
		TopicVoting("my-swarm", "t1"),
		TopicTasks("my-swarm", 1),
		TopicResults("my-swarm", "t1"),
	}
	for _, topic := range topics {
		if !strings.HasPrefix(topic, TopicPrefix+"/s/my-swarm/") {
			t.Errorf("topic not namespaced: %s", topic)
		}
	}

	// Two swarms never share a channel.
	if TopicKeepalive("a") == TopicKeepalive("b") {
		t.Fatal("keepalive topics must differ per swarm")
	}
}

func TestDiscoveryTopicIsGlobal(t *testing.T) {
	topic := TopicSwarmDiscovery()
	if strings.Contains(topic, "/s/") {
		t.Fatalf("discovery topic must not be swarm-scoped: %s", topic)
	}
	if !strings.HasPrefix(topic, TopicPrefix) {
		t.Fatalf("discovery topic missing prefix: %s", topic)
	}
}

func TestTierTaskTopics(t *testing.T) {
	if TopicTasks("public", 1) == TopicTasks("public", 2) {
		t.Fatal("task topics must differ per tier")
	}
}
