package mcpserver

// DocumentFormatContract describes the canonical anchor document format that
// LLM consumers should follow when importing documents.
const DocumentFormatContract = `# Waymark Anchor Document Format

Each workspace is one JSON file. Saves always rewrite the whole file.

## Structure

` + "```" + `json
{
  "anchors": [
    {
      "id": "2f0c...",            // group id; generated when missing
      "key": "poster",            // image label; REQUIRED for image groups, absent for planes
      "kind": "image",            // "image" or "plane"; defaults to image when key is set
      "origin": {                 // planes only: world pose of the plane when first used
        "position": [0, 0, 0],
        "rotation": [0, 0, 0, 1]
      },
      "records": [
        {
          "id": "9a41...",        // record id; generated when missing
          "position": [1, 0, 0],  // relative to the reference, metres
          "rotation": [0, 0, 0, 1], // relative quaternion [x, y, z, w], unit length
          "tag": "lamp"           // optional
        }
      ]
    }
  ]
}
` + "```" + `

(Comments above are explanatory only; JSON does not allow them.)

## Rules

1. **Keys are unique.** Two image groups may not share a key.
2. **Rotations are unit quaternions** in [x, y, z, w] order.
3. **Poses are relative** to the reference the group belongs to. For a plane
   group that reference is the group origin, not the plane itself.
4. **Planes have no key.** They are parented to the tracked plane nearest to
   their origin; records keep their saved world pose.
5. **An empty file or {}** is an empty document.
6. **Unknown fields are rejected.** A file that does not decode is kept and
   moved aside before the next save.

## Accepted legacy shapes

- ` + "`" + `{"positions": [[x, y, z], ...]}` + "`" + ` becomes one plane group at the world origin.
  Elements may also be objects: ` + "`" + `{"x": .., "y": .., "z": ..}` + "`" + `.
- ` + "`" + `{"anchors": [{"position": {"x":..}, "rotation": {"x":..,"w":..}}]}` + "`" + ` (world
  poses) becomes one plane group at the world origin.
- ` + "`" + `{"data": [{"imageName": "...", "annotations": [{"localPosition": {"x":..}, "localRotation": {"x":..,"w":..}}]}]}` + "`" + `
  becomes one image group per imageName.
- A single ` + "`" + `{"localPosition": .., "localRotation": ..}` + "`" + ` record names no image. It
  is only accepted on import with a key (the import_anchors ` + "`" + `key` + "`" + ` argument or
  ` + "`" + `?key=` + "`" + ` on the REST import) and becomes one
  image group with that key.

Legacy input is always stored back in the canonical format.
`
