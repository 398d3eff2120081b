// Package graph maintains the Neo4j relationship layer: memory nodes,
// the entities they mention, and the links dedup and consolidation
// create between them.
package graph

import (
	"context"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/virek/engram/internal/analysis"
	"github.com/virek/engram/internal/fault"
)

// Graph handles Neo4j operations for the memory system.
type Graph struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// New creates a Neo4j-backed graph.
func New(uri, user, password string, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "create neo4j driver")
	}
	return &Graph{driver: driver, logger: logger}, nil
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// AddMemory creates the memory node and a MENTIONS edge for every
// extracted entity. Entities are merged by name so repeat mentions
// share one node.
func (g *Graph) AddMemory(ctx context.Context, memoryID, userID, content string, entities []analysis.Entity) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MERGE (m:Memory {id: $id})
		 SET m.user_id = $userId, m.content = $content, m.created_at = datetime()`,
		map[string]interface{}{
			"id":      memoryID,
			"userId":  userID,
			"content": content,
		})
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "graph: create memory node %q", memoryID)
	}

	for _, e := range entities {
		_, err := session.Run(ctx,
			`MATCH (m:Memory {id: $memId})
			 MERGE (e:Entity {name: $name})
			 ON CREATE SET e.type = $type
			 MERGE (m)-[:MENTIONS]->(e)`,
			map[string]interface{}{
				"memId": memoryID,
				"name":  e.Name,
				"type":  e.Type,
			})
		if err != nil {
			return fault.Wrap(fault.KindProvider, err, "graph: link entity %q", e.Name)
		}
	}
	return nil
}

// Relate links two memories. relation is RELATED_TO for dedup updates
// and MERGED_INTO for merges.
func (g *Graph) Relate(ctx context.Context, fromID, toID, relation string) error {
	var query string
	switch relation {
	case "RELATED_TO":
		query = `MATCH (a:Memory {id: $from}), (b:Memory {id: $to})
			 MERGE (a)-[:RELATED_TO]->(b)`
	case "MERGED_INTO":
		query = `MATCH (a:Memory {id: $from}), (b:Memory {id: $to})
			 MERGE (a)-[:MERGED_INTO]->(b)`
	default:
		return fault.Validation("graph: unknown relation %q", relation)
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx, query,
		map[string]interface{}{"from": fromID, "to": toID})
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "graph: relate %q -> %q", fromID, toID)
	}
	return nil
}

// Neighbor is one memory connected to the queried one.
type Neighbor struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Relation string `json:"relation"`
}

// Neighborhood returns the memories directly linked to memoryID in
// either direction. Consolidation walks this to find merge material.
func (g *Graph) Neighborhood(ctx context.Context, memoryID string) ([]Neighbor, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id})-[r]-(n:Memory)
		 RETURN n.id, n.content, type(r)`,
		map[string]interface{}{"id": memoryID})
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "graph: neighborhood of %q", memoryID)
	}

	var neighbors []Neighbor
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("n.id")
		content, _ := rec.Get("n.content")
		relation, _ := rec.Get("type(r)")
		n := Neighbor{}
		if s, ok := id.(string); ok {
			n.ID = s
		}
		if s, ok := content.(string); ok {
			n.Content = s
		}
		if s, ok := relation.(string); ok {
			n.Relation = s
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, nil
}

// DeleteMemory removes a memory node and its edges. Entity nodes stay;
// other memories may mention them.
func (g *Graph) DeleteMemory(ctx context.Context, memoryID string) error {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (m:Memory {id: $id}) DETACH DELETE m`,
		map[string]interface{}{"id": memoryID})
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "graph: delete memory %q", memoryID)
	}
	return nil
}
