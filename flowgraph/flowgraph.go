// Package flowgraph provides connectivity analysis and validation for stage graphs.
package flowgraph

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/c360/stagegraph/errors"
)

// Direction of a port relative to its stage
type Direction string

const (
	// DirectionInput marks a consuming port (an inlet)
	DirectionInput Direction = "input"
	// DirectionOutput marks a producing port (an outlet)
	DirectionOutput Direction = "output"
)

// InteractionPattern defines how a port is linked
type InteractionPattern string

const (
	// PatternLink is a point-to-point link between two stages of one graph
	PatternLink InteractionPattern = "link"
	// PatternBoundary is a port bound to an external publisher or subscriber
	PatternBoundary InteractionPattern = "boundary"
)

// FlowGraph represents a directed graph of stage connections
type FlowGraph struct {
	nodes  map[string]*StageNode
	order  []string
	edges  []FlowEdge
	logger *slog.Logger
}

// StageNode represents a stage in the flow graph
type StageNode struct {
	StageName   string
	Kind        string
	InputPorts  []PortInfo
	OutputPorts []PortInfo
}

// PortInfo contains port metadata for graph analysis
type PortInfo struct {
	Name         string
	Direction    Direction
	ConnectionID string // link id; empty while unbound
	Pattern      InteractionPattern
	Listened     bool // a listener is installed
}

// FlowEdge represents a connection between two stage ports
type FlowEdge struct {
	From         StagePortRef       `json:"from"`
	To           StagePortRef       `json:"to"`
	Pattern      InteractionPattern `json:"pattern"`
	ConnectionID string             `json:"connection_id"`
}

// StagePortRef references a specific port on a stage
type StagePortRef struct {
	StageName string `json:"stage_name"`
	PortName  string `json:"port_name"`
}

func (r StagePortRef) String() string {
	return r.StageName + "." + r.PortName
}

// FlowAnalysisResult contains the results of connectivity analysis
type FlowAnalysisResult struct {
	ConnectedComponents [][]string         `json:"connected_components"`
	ConnectedEdges      []FlowEdge         `json:"connected_edges"`
	DisconnectedNodes   []DisconnectedNode `json:"disconnected_nodes"`
	OrphanedPorts       []OrphanedPort     `json:"orphaned_ports"`
	UnlistenedPorts     []StagePortRef     `json:"unlistened_ports"`
	Cycles              [][]string         `json:"cycles"`
	ValidationStatus    string             `json:"validation_status"`
}

// DisconnectedNode represents a stage with no connections
type DisconnectedNode struct {
	StageName string `json:"stage_name"`
	Issue     string `json:"issue"`
}

// OrphanedPort represents a port with no peer
type OrphanedPort struct {
	StageName string    `json:"stage_name"`
	PortName  string    `json:"port_name"`
	Direction Direction `json:"direction"`
	Issue     string    `json:"issue"`
}

// Validation statuses
const (
	StatusHealthy = "healthy"
	StatusInvalid = "invalid"
)

// NewFlowGraph creates a new empty FlowGraph
func NewFlowGraph(logger *slog.Logger) *FlowGraph {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowGraph{
		nodes:  make(map[string]*StageNode),
		edges:  make([]FlowEdge, 0),
		logger: logger,
	}
}

// GetNodes returns a deep copy of stage nodes to prevent external modification
func (g *FlowGraph) GetNodes() map[string]*StageNode {
	result := make(map[string]*StageNode, len(g.nodes))
	for k, v := range g.nodes {
		nodeCopy := &StageNode{
			StageName:   v.StageName,
			Kind:        v.Kind,
			InputPorts:  make([]PortInfo, len(v.InputPorts)),
			OutputPorts: make([]PortInfo, len(v.OutputPorts)),
		}
		copy(nodeCopy.InputPorts, v.InputPorts)
		copy(nodeCopy.OutputPorts, v.OutputPorts)
		result[k] = nodeCopy
	}
	return result
}

// GetEdges returns the edges in the graph
func (g *FlowGraph) GetEdges() []FlowEdge {
	result := make([]FlowEdge, len(g.edges))
	copy(result, g.edges)
	return result
}

// AddStageNode adds a stage as a node in the graph
func (g *FlowGraph) AddStageNode(name, kind string, ports []PortInfo) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrGraphInvalid, "FlowGraph", "AddStageNode", "stage name cannot be empty")
	}
	if _, exists := g.nodes[name]; exists {
		return errors.WrapInvalid(errors.ErrGraphInvalid, "FlowGraph", "AddStageNode",
			fmt.Sprintf("stage %s already exists in graph", name))
	}

	node := &StageNode{StageName: name, Kind: kind}
	for _, port := range ports {
		switch port.Direction {
		case DirectionInput:
			node.InputPorts = append(node.InputPorts, port)
		case DirectionOutput:
			node.OutputPorts = append(node.OutputPorts, port)
		default:
			return errors.WrapInvalid(errors.ErrGraphInvalid, "FlowGraph", "AddStageNode",
				fmt.Sprintf("port %s.%s has no direction", name, port.Name))
		}
	}

	g.nodes[name] = node
	g.order = append(g.order, name)
	return nil
}

// ConnectByLinks builds edges by matching output and input ports that share a
// connection id. Every link must have exactly one producer and one consumer.
func (g *FlowGraph) ConnectByLinks() error {
	g.edges = g.edges[:0]

	producers := g.buildPortMap(func(n *StageNode) []PortInfo { return n.OutputPorts })
	consumers := g.buildPortMap(func(n *StageNode) []PortInfo { return n.InputPorts })

	var problems []string
	for _, connID := range sortedKeys(producers) {
		pubs := producers[connID]
		subs := consumers[connID]
		if len(pubs) > 1 {
			problems = append(problems, fmt.Sprintf("link %s has %d producers: %v", connID, len(pubs), pubs))
		}
		if len(subs) > 1 {
			problems = append(problems, fmt.Sprintf("link %s has %d consumers: %v", connID, len(subs), subs))
		}
		for _, pub := range pubs {
			for _, sub := range subs {
				g.edges = append(g.edges, FlowEdge{
					From:         pub,
					To:           sub,
					Pattern:      PatternLink,
					ConnectionID: connID,
				})
				g.logger.Debug("flow edge", "from", pub.String(), "to", sub.String(), "link", connID)
			}
		}
	}

	if len(problems) > 0 {
		return errors.WrapInvalid(errors.ErrGraphInvalid, "FlowGraph", "ConnectByLinks", strings.Join(problems, "; "))
	}
	return nil
}

// buildPortMap maps connection ids to the link ports selected from each node
func (g *FlowGraph) buildPortMap(ports func(*StageNode) []PortInfo) map[string][]StagePortRef {
	result := make(map[string][]StagePortRef)
	for _, name := range g.order {
		for _, port := range ports(g.nodes[name]) {
			if port.Pattern != PatternLink || port.ConnectionID == "" {
				continue
			}
			result[port.ConnectionID] = append(result[port.ConnectionID], StagePortRef{
				StageName: name,
				PortName:  port.Name,
			})
		}
	}
	return result
}

// AnalyzeConnectivity performs graph connectivity analysis
func (g *FlowGraph) AnalyzeConnectivity() *FlowAnalysisResult {
	result := &FlowAnalysisResult{
		ConnectedEdges:      g.edges,
		ValidationStatus:    StatusHealthy,
		DisconnectedNodes:   []DisconnectedNode{},
		ConnectedComponents: g.findConnectedComponents(),
		OrphanedPorts:       g.findOrphanedPorts(),
		UnlistenedPorts:     g.findUnlistenedPorts(),
		Cycles:              g.findCycles(),
	}

	for _, name := range g.order {
		node := g.nodes[name]
		if g.hasBoundary(node) {
			continue
		}
		hasConnection := false
		for _, edge := range g.edges {
			if edge.From.StageName == name || edge.To.StageName == name {
				hasConnection = true
				break
			}
		}
		if !hasConnection {
			result.DisconnectedNodes = append(result.DisconnectedNodes, DisconnectedNode{
				StageName: name,
				Issue:     "stage has no connections",
			})
		}
	}

	if len(result.DisconnectedNodes) > 0 || len(result.OrphanedPorts) > 0 ||
		len(result.UnlistenedPorts) > 0 || len(result.Cycles) > 0 {
		result.ValidationStatus = StatusInvalid
	}
	return result
}

// Validate analyzes the graph and returns an ErrGraphInvalid error describing
// every issue found
func (g *FlowGraph) Validate() error {
	if err := g.ConnectByLinks(); err != nil {
		return err
	}

	result := g.AnalyzeConnectivity()
	if result.ValidationStatus == StatusHealthy {
		return nil
	}

	var issues []string
	for _, port := range result.OrphanedPorts {
		issues = append(issues, fmt.Sprintf("%s.%s: %s", port.StageName, port.PortName, port.Issue))
	}
	for _, port := range result.UnlistenedPorts {
		issues = append(issues, fmt.Sprintf("%s: no listener", port))
	}
	for _, node := range result.DisconnectedNodes {
		issues = append(issues, fmt.Sprintf("%s: %s", node.StageName, node.Issue))
	}
	for _, cycle := range result.Cycles {
		issues = append(issues, fmt.Sprintf("cycle: %s", strings.Join(cycle, " -> ")))
	}
	return errors.WrapInvalid(errors.ErrGraphInvalid, "FlowGraph", "Validate", strings.Join(issues, "; "))
}

func (g *FlowGraph) hasBoundary(node *StageNode) bool {
	for _, port := range append(append([]PortInfo{}, node.InputPorts...), node.OutputPorts...) {
		if port.Pattern == PatternBoundary {
			return true
		}
	}
	return false
}

// findConnectedComponents uses DFS to find connected components in the graph
func (g *FlowGraph) findConnectedComponents() [][]string {
	visited := make(map[string]bool)
	components := [][]string{}

	adj := make(map[string][]string)
	for _, edge := range g.edges {
		from := edge.From.StageName
		to := edge.To.StageName
		adj[from] = append(adj[from], to)
		adj[to] = append(adj[to], from)
	}

	for _, name := range g.order {
		if !visited[name] {
			var cluster []string
			g.dfs(name, adj, visited, &cluster)
			components = append(components, cluster)
		}
	}
	return components
}

func (g *FlowGraph) dfs(node string, adj map[string][]string, visited map[string]bool, cluster *[]string) {
	visited[node] = true
	*cluster = append(*cluster, node)

	for _, neighbor := range adj[node] {
		if !visited[neighbor] {
			g.dfs(neighbor, adj, visited, cluster)
		}
	}
}

// findCycles reports each directed cycle once, starting from the first stage
// of the cycle in insertion order
func (g *FlowGraph) findCycles() [][]string {
	next := make(map[string][]string)
	for _, edge := range g.edges {
		next[edge.From.StageName] = append(next[edge.From.StageName], edge.To.StageName)
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int)
	cycles := [][]string{}
	var path []string

	var visit func(string)
	visit = func(n string) {
		color[n] = grey
		path = append(path, n)
		for _, m := range next[n] {
			switch color[m] {
			case white:
				visit(m)
			case grey:
				for i := len(path) - 1; i >= 0; i-- {
					if path[i] == m {
						cycle := append(append([]string{}, path[i:]...), m)
						cycles = append(cycles, cycle)
						break
					}
				}
			}
		}
		path = path[:len(path)-1]
		color[n] = black
	}

	for _, name := range g.order {
		if color[name] == white {
			visit(name)
		}
	}
	return cycles
}

// findOrphanedPorts identifies link ports with no peer. Boundary ports are
// external interfaces and never orphaned.
func (g *FlowGraph) findOrphanedPorts() []OrphanedPort {
	orphaned := []OrphanedPort{}

	connected := make(map[StagePortRef]bool)
	for _, edge := range g.edges {
		connected[edge.From] = true
		connected[edge.To] = true
	}

	check := func(name string, ports []PortInfo, issue string) {
		for _, port := range ports {
			if port.Pattern == PatternBoundary {
				continue
			}
			if connected[StagePortRef{StageName: name, PortName: port.Name}] {
				continue
			}
			orphaned = append(orphaned, OrphanedPort{
				StageName: name,
				PortName:  port.Name,
				Direction: port.Direction,
				Issue:     issue,
			})
		}
	}

	for _, name := range g.order {
		node := g.nodes[name]
		check(name, node.InputPorts, "no_upstream")
		check(name, node.OutputPorts, "no_downstream")
	}
	return orphaned
}

func (g *FlowGraph) findUnlistenedPorts() []StagePortRef {
	var unlistened []StagePortRef
	for _, name := range g.order {
		node := g.nodes[name]
		for _, port := range append(append([]PortInfo{}, node.InputPorts...), node.OutputPorts...) {
			if !port.Listened {
				unlistened = append(unlistened, StagePortRef{StageName: name, PortName: port.Name})
			}
		}
	}
	return unlistened
}

func sortedKeys(m map[string][]StagePortRef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
