package parser

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/top250-crawler/internal/catalog"
)

const shawshankItem = `
<div class="item">
  <div class="pic"><em>1</em></div>
  <div class="info">
    <div class="hd">
      <a href="https://movie.douban.com/subject/1292052/">
        <span class="title">肖申克的救赎</span>
        <span class="title">&nbsp;/&nbsp;The Shawshank Redemption</span>
      </a>
    </div>
    <div class="bd">
      <p class="">
        导演: 弗兰克·德拉邦特 Frank Darabont&nbsp;&nbsp;&nbsp;主演: 蒂姆·罗宾斯 Tim Robbins /...<br>
        1994&nbsp;/&nbsp;美国&nbsp;/&nbsp;犯罪 剧情
      </p>
      <div class="star">
        <span class="rating5-t"></span>
        <span class="rating_num" property="v:average">9.7</span>
        <span property="v:best" content="10.0"></span>
        <span>3,012,345人评价</span>
      </div>
    </div>
  </div>
</div>`

func listItem(title, meta, rating, votes string) string {
	return fmt.Sprintf(`<div class="item"><div class="hd"><span class="title">%s</span></div>
<div class="bd"><p>%s</p><div class="star"><span class="rating_num">%s</span><span>%s</span></div></div></div>`,
		title, meta, rating, votes)
}

func page(items ...string) []byte {
	return []byte("<html><body><ol class=\"grid_view\">" + strings.Join(items, "\n") + "</ol></body></html>")
}

func parseOne(t *testing.T, p *Parser, item string) catalog.Outcome {
	t.Helper()
	outcomes, err := p.ParseHTML(page(item))
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	return outcomes[0]
}

func TestParseRealisticItem(t *testing.T) {
	t.Parallel()

	out := parseOne(t, New(nil), shawshankItem)
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	rec := out.Record
	require.Equal(t, "肖申克的救赎", rec.Title)
	require.Equal(t, []string{"弗兰克·德拉邦特"}, rec.Directors)
	require.True(t, rec.HasYear)
	require.Equal(t, 1994, rec.Year)
	require.Equal(t, "美国", rec.Country)
	require.InDelta(t, 9.7, rec.Rating, 1e-9)
	require.Equal(t, 3012345, rec.VoteCount)
}

func TestDirectorPrefersCJKRun(t *testing.T) {
	t.Parallel()

	out := parseOne(t, New(nil), listItem("花样年华", "导演: 王家卫 主演: 张国荣", "8.8", "100人评价"))
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Equal(t, []string{"王家卫"}, out.Record.Directors)
	require.Equal(t, "王家卫", out.Record.DirectorLabel())
}

func TestDirectorMissingPrefix(t *testing.T) {
	t.Parallel()

	out := parseOne(t, New(nil), listItem("无名", "主演: 张国荣<br>1993 / 中国香港 / 剧情", "8.1", ""))
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Empty(t, out.Record.Directors)
	require.Equal(t, catalog.UnknownDirector, out.Record.DirectorLabel())
	require.Equal(t, 1993, out.Record.Year)
}

func TestMultipleAndLatinDirectors(t *testing.T) {
	t.Parallel()

	p := New(nil)
	out := parseOne(t, p, listItem("电影",
		"导演: 李安 Ang Lee / Christopher Nolan&nbsp;&nbsp;&nbsp;主演: 某人<br>2000 / 美国 / 剧情", "9.0", ""))
	require.Equal(t, []string{"李安", "Christopher Nolan"}, out.Record.Directors)
	require.Equal(t, "李安 / Christopher Nolan", out.Record.DirectorLabel())
}

func TestSingleSpaceSeparatorOverCaptures(t *testing.T) {
	t.Parallel()

	out := parseOne(t, New(nil), listItem("千与千寻",
		"导演: 宫崎骏 Hayao Miyazaki 主演: 柊瑠美 / 入野自由<br>2001 / 日本 / 动画", "9.4", ""))
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Equal(t, []string{"宫崎骏", "入野自由", "日本", "动画"}, out.Record.Directors)
}

type fixedSegmenter string

func (s fixedSegmenter) DirectorSegment(string) (string, bool) { return string(s), true }

func TestCustomSegmenter(t *testing.T) {
	t.Parallel()

	p := New(nil, WithSegmenter(fixedSegmenter(" 宫崎骏 Hayao Miyazaki")))
	out := parseOne(t, p, listItem("千与千寻",
		"导演: 宫崎骏 Hayao Miyazaki 主演: 柊瑠美 / 入野自由<br>2001 / 日本 / 动画", "9.4", ""))
	require.Equal(t, []string{"宫崎骏"}, out.Record.Directors)
}

func TestCountryFilter(t *testing.T) {
	t.Parallel()

	p := New([]string{"中国"})
	usa := parseOne(t, p, listItem("美国片", "导演: 甲<br>1994 / 美国 / 剧情", "9.0", ""))
	require.Equal(t, catalog.OutcomeFiltered, usa.Kind)
	require.Equal(t, catalog.FilterCountryMismatch, usa.Reason)
	require.Equal(t, "美国片", usa.Title)

	hk := parseOne(t, p, listItem("港片", "导演: 乙<br>1994 / 中国香港 / 剧情", "9.0", ""))
	require.Equal(t, catalog.OutcomeAccepted, hk.Kind)
	require.Equal(t, "中国香港", hk.Record.Country)
}

func TestCountryUsesLastMiddleToken(t *testing.T) {
	t.Parallel()

	p := New([]string{"法国"})
	out := parseOne(t, p, listItem("合拍片", "导演: 丙<br>1998 / 美国 / 法国 / 剧情", "8.0", ""))
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Equal(t, "法国", out.Record.Country)
}

func TestCountrySkipsReleaseYears(t *testing.T) {
	t.Parallel()

	p := New([]string{"中国"})
	meta := "导演: 万籁鸣 Laiming Wan / 唐澄 Cheng Tang<br>1961(中国大陆) / 1964 / 1978 / 2004 / 中国大陆 / 剧情 动画 奇幻"
	out := parseOne(t, p, listItem("大闹天宫", meta, "9.4", "500,000人评价"))
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Equal(t, "中国大陆", out.Record.Country)
	require.Equal(t, 1961, out.Record.Year)
}

func TestCountryMissing(t *testing.T) {
	t.Parallel()

	noLine := listItem("单行", "导演: 丁 1990", "8.0", "")
	noToken := listItem("无国", "导演: 丁<br>1990 剧情", "8.0", "")

	filtered := New([]string{"中国"})
	for _, item := range []string{noLine, noToken} {
		out := parseOne(t, filtered, item)
		require.Equal(t, catalog.OutcomeFiltered, out.Kind)
		require.Equal(t, catalog.FilterCountryMissing, out.Reason)
	}

	open := New(nil)
	for _, item := range []string{noLine, noToken} {
		out := parseOne(t, open, item)
		require.Equal(t, catalog.OutcomeAccepted, out.Kind)
		require.Empty(t, out.Record.Country)
	}
}

func TestEmptyFilterNeverFiltersCountry(t *testing.T) {
	t.Parallel()

	body := page(
		listItem("一", "导演: 甲<br>1994 / 美国 / 剧情", "9.0", ""),
		listItem("二", "导演: 乙<br>1994 / 日本 / 剧情", "9.0", ""),
		listItem("三", "导演: 丙", "9.0", ""),
	)
	outcomes, err := New([]string{}).ParseHTML(body)
	require.NoError(t, err)
	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		require.Equal(t, catalog.OutcomeAccepted, out.Kind, out.Title)
	}
}

func TestTitleHandling(t *testing.T) {
	t.Parallel()

	p := New(nil)
	split := parseOne(t, p, listItem("霸王别姬 / Farewell My Concubine", "导演: 陈凯歌", "9.6", ""))
	require.Equal(t, "霸王别姬", split.Record.Title)

	empty := parseOne(t, p, listItem("  ", "导演: 陈凯歌", "9.6", ""))
	require.Equal(t, catalog.UntitledPlaceholder, empty.Record.Title)

	slashOnly := parseOne(t, p, listItem("/ Only Foreign", "导演: 陈凯歌", "9.6", ""))
	require.Equal(t, catalog.UntitledPlaceholder, slashOnly.Record.Title)
}

func TestMissingInfoBlockIsMalformed(t *testing.T) {
	t.Parallel()

	out := parseOne(t, New([]string{"中国"}), `<div class="item"><span class="title">残缺</span></div>`)
	require.Equal(t, catalog.OutcomeMalformed, out.Kind)
	require.Equal(t, "残缺", out.Title)
}

func TestMissingParagraph(t *testing.T) {
	t.Parallel()

	item := `<div class="item"><span class="title">无段落</span><div class="bd"><span class="rating_num">7.5</span></div></div>`
	out := parseOne(t, New(nil), item)
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Equal(t, catalog.UnknownDirector, out.Record.DirectorLabel())
	require.False(t, out.Record.HasYear)
	require.InDelta(t, 7.5, out.Record.Rating, 1e-9)
}

func TestRatingAndVotesDefaults(t *testing.T) {
	t.Parallel()

	item := `<div class="item"><span class="title">无评分</span><div class="bd"><p>导演: 甲</p></div></div>`
	out := parseOne(t, New(nil), item)
	require.Equal(t, catalog.OutcomeAccepted, out.Kind)
	require.Zero(t, out.Record.Rating)
	require.Zero(t, out.Record.VoteCount)
}

func TestInvalidRatingIsParseError(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	p := New(nil, WithLogger(zap.New(core)))
	out := parseOne(t, p, listItem("坏评分", "导演: 甲", "n/a", ""))
	require.Equal(t, catalog.OutcomeParseError, out.Kind)
	require.Contains(t, out.Detail, "invalid rating")
	require.Equal(t, 1, logs.FilterMessage("failed to parse item").Len())
}

type panicSegmenter struct{}

func (panicSegmenter) DirectorSegment(string) (string, bool) { panic("boom") }

func TestPanicBecomesParseError(t *testing.T) {
	t.Parallel()

	p := New(nil, WithSegmenter(panicSegmenter{}))
	outcomes, err := p.ParseHTML(page(
		listItem("坏", "导演: 甲", "8.0", ""),
		`<div class="item"><span class="title">残缺</span></div>`,
	))
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.Equal(t, catalog.OutcomeParseError, outcomes[0].Kind)
	require.Contains(t, outcomes[0].Detail, "boom")
	require.Equal(t, catalog.OutcomeMalformed, outcomes[1].Kind)
}

func TestFilteredItemsAreLogged(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	p := New([]string{"中国"}, WithLogger(zap.New(core)))
	parseOne(t, p, listItem("美国片", "导演: 甲<br>1994 / 美国 / 剧情", "9.0", ""))
	entries := logs.FilterMessage("skipping item outside country filter").All()
	require.Len(t, entries, 1)
	require.Equal(t, "美国片", entries[0].ContextMap()["title"])
}

func TestParseVotes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"12,345人评价", 12345},
		{"1，234人评价", 1234},
		{" 987人评价 ", 987},
		{"3012345人评价", 3012345},
		{"人评价", 0},
		{"约1万人评价", 0},
		{"-5人评价", 0},
		{"", 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ParseVotes(tc.in), tc.in)
	}
}

func TestSnippetIsCapped(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("长", 500)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page(listItem(long, "", "", ""))))
	require.NoError(t, err)
	snippet := Snippet(doc.Find(ItemSelector), 200)
	require.True(t, strings.HasSuffix(snippet, "..."))
	require.Equal(t, 203, utf8.RuneCountInString(snippet))

	require.Empty(t, Snippet(doc.Find("div.none"), 200))
}

func TestSplitDirectors(t *testing.T) {
	t.Parallel()

	require.Equal(t, []string{"吕克·贝松"}, splitDirectors(" 吕克·贝松 Luc Besson"))
	require.Equal(t, []string{"让"}, splitDirectors("让-皮埃尔·热内 Jean-Pierre Jeunet"))
	require.Equal(t, []string{"Luc Besson"}, splitDirectors("Luc Besson"))
	require.Equal(t, []string{"A·B"}, splitDirectors(" A·B "))
	require.Nil(t, splitDirectors(" / "))
}

func TestDoubleSpaceSegmenter(t *testing.T) {
	t.Parallel()

	seg := DoubleSpaceSegmenter{}
	got, ok := seg.DirectorSegment("导演: 甲 A  主演: 乙")
	require.True(t, ok)
	require.Equal(t, " 甲 A", got)

	got, ok = seg.DirectorSegment("导演: 甲  主演: 乙")
	require.True(t, ok)
	require.Equal(t, " 甲", got)

	got, ok = seg.DirectorSegment("导演: 甲 主演: 乙")
	require.True(t, ok)
	require.Equal(t, " 甲 主演: 乙", got)

	_, ok = seg.DirectorSegment("主演: 乙")
	require.False(t, ok)
}
