// Command openswarm is the operator CLI: it speaks line-oriented JSON-RPC
// 2.0 to a local openswarm-node and prints the results.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ssd-technologies/openswarm/internal/protocol"
)

const defaultRPCAddr = "127.0.0.1:9370"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	addr := os.Getenv("OPENSWARM_RPC_BIND_ADDR")
	if addr == "" {
		addr = defaultRPCAddr
	}

	var (
		result json.RawMessage
		err    error
	)
	switch os.Args[1] {
	case "status":
		result, err = call(addr, "swarm.get_status", map[string]string{})
	case "stats":
		result, err = call(addr, "swarm.get_network_stats", map[string]string{})
	case "hierarchy":
		result, err = call(addr, "swarm.get_hierarchy", map[string]string{})
	case "tasks":
		result, err = call(addr, "swarm.receive_task", map[string]string{})
	case "task":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: openswarm task <task-id>")
			os.Exit(1)
		}
		result, err = call(addr, "swarm.get_task", map[string]string{"task_id": os.Args[2]})
	case "inject":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: openswarm inject <description>")
			os.Exit(1)
		}
		description := strings.Join(os.Args[2:], " ")
		result, err = call(addr, "swarm.inject_task", map[string]string{"description": description})
	case "connect":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: openswarm connect <host:port>")
			os.Exit(1)
		}
		result, err = call(addr, "swarm.connect", map[string]string{"addr": os.Args[2]})
	case "swarms":
		result, err = call(addr, "swarm.list_swarms", map[string]string{})
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	pretty(result)
}

func usage() {
	fmt.Println("Usage: openswarm <status|stats|hierarchy|tasks|task|inject|connect|swarms> [args]")
	fmt.Println("  status              node status")
	fmt.Println("  stats               network statistics")
	fmt.Println("  hierarchy           hierarchy snapshot")
	fmt.Println("  tasks               tasks pending for the local agent")
	fmt.Println("  task <id>           one task record")
	fmt.Println("  inject <desc...>    inject a task into the swarm")
	fmt.Println("  connect <addr>      dial a peer")
	fmt.Println("  swarms              known swarms")
}

// call performs one request/response exchange over a fresh connection.
func call(addr, method string, params interface{}) (json.RawMessage, error) {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s (is openswarm-node running?): %w", addr, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(protocol.DefaultRPCTimeoutSecs * time.Second)) //nolint:errcheck

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	req := protocol.Envelope{
		JSONRPC: protocol.JSONRPCVersion,
		Method:  method,
		ID:      uuid.NewString(),
		Params:  raw,
	}
	line, err := json.Marshal(&req)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	respLine, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp protocol.Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%s (code %d)", resp.Error.Message, resp.Error.Code)
	}
	return resp.Result, nil
}

func pretty(raw json.RawMessage) {
	var buf map[string]interface{}
	if err := json.Unmarshal(raw, &buf); err != nil {
		fmt.Println(string(raw))
		return
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		fmt.Println(string(raw))
		return
	}
	fmt.Println(string(out))
}
