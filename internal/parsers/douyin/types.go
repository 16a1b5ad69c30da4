package douyin

import "strings"

type urlList struct {
	URLList []string `json:"url_list"`
}

func (l urlList) First() string {
	if len(l.URLList) > 0 {
		return l.URLList[0]
	}

	return ""
}

// RouterData is the window._ROUTER_DATA payload embedded in share pages.
// Page keys look like "video_(id)/page" or "note_(id)/page".
type RouterData struct {
	LoaderData map[string]routerPage `json:"loaderData"`
}

type routerPage struct {
	VideoInfoRes videoInfoRes `json:"videoInfoRes"`
}

type videoInfoRes struct {
	ItemList []Item `json:"item_list"`
}

func (d RouterData) Item() (*Item, bool) {
	for key, page := range d.LoaderData {
		if !strings.Contains(key, "video_") && !strings.Contains(key, "note_") {
			continue
		}

		if len(page.VideoInfoRes.ItemList) > 0 {
			return &page.VideoInfoRes.ItemList[0], true
		}
	}

	return nil, false
}

type itemAuthor struct {
	Nickname    string  `json:"nickname"`
	AvatarThumb urlList `json:"avatar_thumb"`
}

type itemVideo struct {
	PlayAddr urlList `json:"play_addr"`
	Cover    urlList `json:"cover"`
	// Duration is in milliseconds.
	Duration int64 `json:"duration"`
}

type Item struct {
	AwemeID    string     `json:"aweme_id"`
	Desc       string     `json:"desc"`
	CreateTime int64      `json:"create_time"`
	Author     itemAuthor `json:"author"`
	Images     []urlList  `json:"images"`
	Video      itemVideo  `json:"video"`
}

func (i *Item) ImageURLs() []string {
	urls := make([]string, 0, len(i.Images))
	for _, image := range i.Images {
		if url := image.First(); url != "" {
			urls = append(urls, url)
		}
	}

	return urls
}

// VideoURL returns the watermark-free play address.
func (i *Item) VideoURL() string {
	return strings.Replace(i.Video.PlayAddr.First(), "playwm", "play", 1)
}

func (i *Item) CoverURL() string {
	return i.Video.Cover.First()
}

func (i *Item) DurationSeconds() float64 {
	return float64(i.Video.Duration) / 1000
}

// SlidesInfo is the slidesinfo API response for slideshow posts.
type SlidesInfo struct {
	AwemeDetails []SlideDetail `json:"aweme_details"`
}

func (i SlidesInfo) First() (*SlideDetail, bool) {
	if len(i.AwemeDetails) > 0 {
		return &i.AwemeDetails[0], true
	}

	return nil, false
}

type SlideDetail struct {
	Desc       string       `json:"desc"`
	CreateTime int64        `json:"create_time"`
	Author     itemAuthor   `json:"author"`
	Images     []slideImage `json:"images"`
}

type slideImage struct {
	urlList
	Video *struct {
		PlayAddr urlList `json:"play_addr"`
	} `json:"video"`
}
