package writer

import (
	"context"
	"fmt"

	"github.com/tablevc/tablevc/internal/diff"
)

// htmlWriter produces a self-contained page: the full JSON diff document
// embedded in a script tag plus a small renderer that lays it out as
// per-dataset tables. It reuses the JSON writer for the payload.
type htmlWriter struct {
	b    *DiffWriter
	json *jsonWriter
}

func (h *htmlWriter) writeHeader(ctx context.Context, rd *diff.RepoDiff) error {
	h.json = &jsonWriter{b: h.b}
	return h.json.writeHeader(ctx, rd)
}

func (h *htmlWriter) writeDatasetDiff(ctx context.Context, dsPath string, dd *diff.DatasetDiff, features []*diff.Delta) error {
	return h.json.writeDatasetDiff(ctx, dsPath, dd, features)
}

func (h *htmlWriter) writeFooter(ctx context.Context) error {
	// Finish the buffered JSON document without flushing it anywhere.
	h.json.e.ObjEnd()
	if h.b.opts.Patch != nil {
		h.json.e.FieldStart(PatchVersion)
		encodePatchMetadata(&h.json.e, h.b.opts.Patch)
	}
	h.json.e.ObjEnd()

	out := h.b.opts.Out
	if _, err := fmt.Fprint(out, htmlPrologue); err != nil {
		return err
	}
	if _, err := out.Write(h.json.e.Bytes()); err != nil {
		return err
	}
	_, err := fmt.Fprint(out, htmlEpilogue)
	return err
}

const htmlPrologue = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Diff</title>
<style>
body { font-family: sans-serif; margin: 1em; }
h2 { border-bottom: 1px solid #ccc; }
table { border-collapse: collapse; margin-bottom: 1em; }
td, th { border: 1px solid #ddd; padding: 2px 8px; font-family: monospace; }
.del { background: #fdd; }
.ins { background: #dfd; }
</style>
</head>
<body>
<script id="diff-data" type="application/json">
`

const htmlEpilogue = `
</script>
<script>
const doc = JSON.parse(document.getElementById("diff-data").textContent);
const diff = doc["kart.diff/v1+hexwkb"] || {};
for (const [ds, content] of Object.entries(diff)) {
  const h = document.createElement("h2");
  h.textContent = ds;
  document.body.appendChild(h);
  for (const change of (content.feature || [])) {
    const table = document.createElement("table");
    for (const marker of ["--", "-", "+", "++"]) {
      const row = change[marker];
      if (row === undefined) continue;
      for (const [k, v] of Object.entries(row)) {
        const tr = document.createElement("tr");
        tr.className = marker.startsWith("-") ? "del" : "ins";
        const tdm = document.createElement("td");
        tdm.textContent = marker;
        const tdk = document.createElement("td");
        tdk.textContent = k;
        const tdv = document.createElement("td");
        tdv.textContent = String(v);
        tr.append(tdm, tdk, tdv);
        table.appendChild(tr);
      }
    }
    document.body.appendChild(table);
  }
}
</script>
</body>
</html>
`
