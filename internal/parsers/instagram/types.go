package instagram

// Payload is the web JSON representation of a single post.
type Payload struct {
	Graphql struct {
		ShortcodeMedia Node `json:"shortcode_media"`
	} `json:"graphql"`
}

type captionEdges struct {
	Edges []struct {
		Node struct {
			Text string `json:"text"`
		} `json:"node"`
	} `json:"edges"`
}

type sidecarEdges struct {
	Edges []struct {
		Node Node `json:"node"`
	} `json:"edges"`
}

type owner struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	ProfilePicURL string `json:"profile_pic_url"`
}

// Node is a post or a single carousel entry.
type Node struct {
	ID               string  `json:"id"`
	Typename         string  `json:"__typename"`
	Shortcode        string  `json:"shortcode"`
	DisplayURL       string  `json:"display_url"`
	IsVideo          bool    `json:"is_video"`
	VideoURL         string  `json:"video_url"`
	AudioURL         string  `json:"audio_url"`
	HasAudio         bool    `json:"has_audio"`
	VideoDuration    float64 `json:"video_duration"`
	TakenAtTimestamp int64   `json:"taken_at_timestamp"`

	Owner                 owner        `json:"owner"`
	EdgeMediaToCaption    captionEdges `json:"edge_media_to_caption"`
	EdgeSidecarToChildren sidecarEdges `json:"edge_sidecar_to_children"`
}

func (n *Node) Caption() string {
	if edges := n.EdgeMediaToCaption.Edges; len(edges) > 0 {
		return edges[0].Node.Text
	}

	return ""
}

// Children returns carousel entries in source order, or nil for a single post.
func (n *Node) Children() []Node {
	edges := n.EdgeSidecarToChildren.Edges
	if len(edges) == 0 {
		return nil
	}

	children := make([]Node, len(edges))
	for i, edge := range edges {
		children[i] = edge.Node
	}

	return children
}
