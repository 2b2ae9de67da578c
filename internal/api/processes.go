package api

import (
	"errors"
	"net/http"

	"github.com/tinywall/procman/internal/process"
	"github.com/tinywall/procman/pkg/types"
)

// treeNode is the JSON form of a process.Node.
type treeNode struct {
	types.ResolvedProcessRecord
	Children []treeNode `json:"children,omitempty"`
}

func toTreeNode(n *process.Node) treeNode {
	out := treeNode{ResolvedProcessRecord: n.ResolvedProcessRecord}
	for _, c := range n.Children {
		out.Children = append(out.Children, toTreeNode(c))
	}
	return out
}

// listProcesses returns the raw snapshot, or resolved records when
// resolve=true. name filters by a glob over the executable name.
func (a *App) listProcesses(w http.ResponseWriter, r *http.Request) {
	matcher, err := process.NewNameMatcher(r.URL.Query().Get("name"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("resolve") == "true" {
		recs, err := a.procs.ResolvedProcesses()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		out := make([]types.ResolvedProcessRecord, 0, len(recs))
		for _, rec := range recs {
			if matcher.Match(rec.ExeFile) {
				out = append(out, rec)
			}
		}
		writeJSON(w, http.StatusOK, out)
		return
	}

	recs, err := a.procs.Processes()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	out := make([]types.ProcessRecord, 0, len(recs))
	for _, rec := range recs {
		if matcher.Match(rec.ExeFile) {
			out = append(out, rec)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type processInfo struct {
	PID          int    `json:"pid"`
	ImagePath    string `json:"image_path,omitempty"`
	CreationTime int64  `json:"creation_time,omitempty"`
}

// getProcess describes one live process from a single query handle.
func (a *App) getProcess(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	h, err := a.procs.OpenProcess(pid, process.AccessQueryLimited)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
		return
	}
	defer h.Close()

	info := processInfo{PID: pid}
	info.ImagePath, _ = a.procs.ImagePath(h)
	info.CreationTime, _ = a.procs.CreationTime(h)
	writeJSON(w, http.StatusOK, info)
}

func (a *App) getImagePath(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	path, ok := a.procs.ImagePathOf(pid)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "image path not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "image_path": path})
}

func (a *App) getParent(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	ppid, ok, err := a.procs.ParentOf(pid)
	if err != nil {
		resp := map[string]any{"error": err.Error()}
		var se *process.StatusError
		if errors.As(err, &se) {
			resp["status"] = uint32(se.Status)
		}
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "parent not available"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pid": pid, "parent_pid": ppid})
}

func (a *App) buildTree(w http.ResponseWriter) (*process.Tree, bool) {
	recs, err := a.procs.ResolvedProcesses()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return nil, false
	}
	return process.BuildTree(recs), true
}

func (a *App) getTree(w http.ResponseWriter, r *http.Request) {
	tree, ok := a.buildTree(w)
	if !ok {
		return
	}
	out := make([]treeNode, 0, len(tree.Roots()))
	for _, root := range tree.Roots() {
		out = append(out, toTreeNode(root))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *App) getSubtree(w http.ResponseWriter, r *http.Request) {
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}
	tree, ok := a.buildTree(w)
	if !ok {
		return
	}
	n := tree.Node(pid)
	if n == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "process not found"})
		return
	}
	writeJSON(w, http.StatusOK, toTreeNode(n))
}
