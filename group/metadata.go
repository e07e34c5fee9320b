package group

// Well-known metadata keys (§4.4 "Mutable metadata").
const (
	MetadataGroupName        = "group_name"
	MetadataGroupDescription = "group_description"
	MetadataGroupImageURL    = "group_image_url_square"
)

// applyMetadataChange sets dst[key] = value, or deletes the key when
// value is nil (§4.4 "a nil value removes the key").
func applyMetadataChange(dst map[string][]byte, key string, value []byte) {
	if value == nil {
		delete(dst, key)
		return
	}
	dst[key] = value
}
