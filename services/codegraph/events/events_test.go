// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/codegraph/services/codegraph/graph"
)

type fakeConn struct {
	mu      sync.Mutex
	msgs    []*nats.Msg
	err     error
	drained bool
}

func (f *fakeConn) PublishMsg(msg *nats.Msg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msg)
	return nil
}

func (f *fakeConn) Drain() error {
	f.drained = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "cg.")

	ev := NewFileChanged("acme.api", graph.CommitResult{File: "a.py", Generation: 7, NodesAdded: 3})
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, fc.msgs, 1)
	msg := fc.msgs[0]
	assert.Equal(t, "cg.acme_api.file.updated", msg.Subject)
	assert.Equal(t, "7", msg.Header.Get(HeaderGeneration))
	assert.Equal(t, "acme.api", msg.Header.Get(HeaderRepository))

	var got FileChanged
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, "a.py", got.File)
	assert.Equal(t, 3, got.NodesAdded)
	assert.False(t, got.Removed)
}

func TestPublisher_Subject(t *testing.T) {
	p := newPublisher(&fakeConn{}, "")
	assert.Equal(t, "codegraph.repo.file.removed", p.Subject(FileChanged{Repository: "repo", Removed: true}))
	assert.Equal(t, "codegraph._.file.updated", p.Subject(FileChanged{}))
}

func TestPublisher_Hook(t *testing.T) {
	fc := &fakeConn{}
	p := newPublisher(fc, "")
	store := graph.NewStore(graph.WithCommitHook(p.Hook("repo")))

	n := &graph.Node{Kind: graph.NodeKindFunction, Name: "f", Location: graph.Location{File: "f.py", StartByte: 1, EndByte: 5}}
	n.ID = graph.NodeID(n.Location, n.Kind)
	_, err := store.UpsertFile(context.Background(), &graph.FileBatch{File: "f.py", Nodes: []*graph.Node{n}})
	require.NoError(t, err)
	_, err = store.RemoveFile(context.Background(), "f.py")
	require.NoError(t, err)

	require.Len(t, fc.msgs, 2)
	assert.Equal(t, "codegraph.repo.file.updated", fc.msgs[0].Subject)
	assert.Equal(t, "codegraph.repo.file.removed", fc.msgs[1].Subject)
}

func TestPublisher_ErrorsDoNotFailCommit(t *testing.T) {
	fc := &fakeConn{err: errors.New("connection closed")}
	p := newPublisher(fc, "")

	err := p.Publish(context.Background(), FileChanged{Repository: "r"})
	assert.Error(t, err)

	store := graph.NewStore(graph.WithCommitHook(p.Hook("r")))
	_, err = store.UpsertFile(context.Background(), &graph.FileBatch{File: "x.py"})
	assert.NoError(t, err)
}

func TestPublisher_Nil(t *testing.T) {
	var p *Publisher
	assert.NoError(t, p.Publish(context.Background(), FileChanged{}))
	assert.NoError(t, p.Close())
	p.Hook("r")(context.Background(), graph.CommitResult{})
}

func TestPublisher_Close(t *testing.T) {
	fc := &fakeConn{}
	require.NoError(t, newPublisher(fc, "").Close())
	assert.True(t, fc.drained)
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "a_b_c_d", SubjectToken("a.b*c>d"))
	assert.Equal(t, "plain-repo", SubjectToken("plain-repo"))
}
