package catalog

// Default returns the bundled Vietnamese publisher catalog.
func Default() *Catalog {
	return New(defaultSources)
}

var defaultSources = []Source{
	{
		Name: "VnExpress",
		Categories: []Category{
			{"Tin mới nhất", "https://vnexpress.net/rss/tin-moi-nhat.rss"},
			{"Thời sự", "https://vnexpress.net/rss/thoi-su.rss"},
			{"Thế giới", "https://vnexpress.net/rss/the-gioi.rss"},
			{"Kinh doanh", "https://vnexpress.net/rss/kinh-doanh.rss"},
			{"Giải trí", "https://vnexpress.net/rss/giai-tri.rss"},
			{"Thể thao", "https://vnexpress.net/rss/the-thao.rss"},
			{"Công nghệ", "https://vnexpress.net/rss/khoa-hoc.rss"},
			{"Số hóa", "https://vnexpress.net/rss/so-hoa.rss"},
			{"Sức khỏe", "https://vnexpress.net/rss/suc-khoe.rss"},
			{"Pháp luật", "https://vnexpress.net/rss/phap-luat.rss"},
			{"Giáo dục", "https://vnexpress.net/rss/giao-duc.rss"},
			{"Du lịch", "https://vnexpress.net/rss/du-lich.rss"},
			{"Xe", "https://vnexpress.net/rss/oto-xe-may.rss"},
		},
	},
	{
		Name: "Tuổi Trẻ",
		Categories: []Category{
			{"Tin mới nhất", "https://tuoitre.vn/rss/tin-moi-nhat.rss"},
			{"Thời sự", "https://tuoitre.vn/rss/thoi-su.rss"},
			{"Thế giới", "https://tuoitre.vn/rss/the-gioi.rss"},
			{"Kinh doanh", "https://tuoitre.vn/rss/kinh-doanh.rss"},
			{"Giải trí", "https://tuoitre.vn/rss/giai-tri.rss"},
			{"Thể thao", "https://tuoitre.vn/rss/the-thao.rss"},
			{"Công nghệ", "https://tuoitre.vn/rss/nhip-song-so.rss"},
			{"Pháp luật", "https://tuoitre.vn/rss/phap-luat.rss"},
			{"Giáo dục", "https://tuoitre.vn/rss/giao-duc.rss"},
			{"Văn hóa", "https://tuoitre.vn/rss/van-hoa.rss"},
		},
	},
	{
		Name: "Thanh Niên",
		Categories: []Category{
			{"Tin mới nhất", "https://thanhnien.vn/rss/home.rss"},
			{"Thời sự", "https://thanhnien.vn/rss/thoi-su.rss"},
			{"Thế giới", "https://thanhnien.vn/rss/the-gioi.rss"},
			{"Kinh doanh", "https://thanhnien.vn/rss/kinh-doanh.rss"},
			{"Giải trí", "https://thanhnien.vn/rss/giai-tri.rss"},
			{"Thể thao", "https://thanhnien.vn/rss/the-thao.rss"},
			{"Công nghệ", "https://thanhnien.vn/rss/cong-nghe.rss"},
			{"Giáo dục", "https://thanhnien.vn/rss/giao-duc.rss"},
			{"Sức khỏe", "https://thanhnien.vn/rss/suc-khoe.rss"},
		},
	},
	{
		Name: "Dân Trí",
		Categories: []Category{
			{"Trang chính", "https://dantri.com.vn/rss/trangchinh.rss"},
			{"Xã hội", "https://dantri.com.vn/rss/xa-hoi.rss"},
			{"Thế giới", "https://dantri.com.vn/rss/the-gioi.rss"},
			{"Kinh doanh", "https://dantri.com.vn/rss/kinh-doanh.rss"},
			{"Giải trí", "https://dantri.com.vn/rss/giai-tri.rss"},
			{"Thể thao", "https://dantri.com.vn/rss/the-thao.rss"},
			{"Công nghệ", "https://dantri.com.vn/rss/suc-manh-so.rss"},
			{"Sức khỏe", "https://dantri.com.vn/rss/suc-khoe.rss"},
			{"Giáo dục", "https://dantri.com.vn/rss/giao-duc-huong-nghiep.rss"},
		},
	},
	{
		Name: "Zing News",
		Categories: []Category{
			{"Trang chính", "https://zingnews.vn/rss"},
			{"Thời sự", "https://zingnews.vn/rss/thoi-su.rss"},
			{"Xã hội", "https://zingnews.vn/rss/xa-hoi.rss"},
			{"Thế giới", "https://zingnews.vn/rss/the-gioi.rss"},
			{"Kinh doanh", "https://zingnews.vn/rss/kinh-doanh-tai-chinh.rss"},
			{"Công nghệ", "https://zingnews.vn/rss/cong-nghe.rss"},
			{"Giải trí", "https://zingnews.vn/rss/giai-tri.rss"},
			{"Thể thao", "https://zingnews.vn/rss/the-thao.rss"},
		},
	},
	{
		Name: "VietnamNet",
		Categories: []Category{
			{"Trang chính", "https://vietnamnet.vn/rss/home.rss"},
			{"Thời sự", "https://vietnamnet.vn/rss/thoi-su.rss"},
			{"Thế giới", "https://vietnamnet.vn/rss/the-gioi.rss"},
			{"Kinh doanh", "https://vietnamnet.vn/rss/kinh-doanh.rss"},
			{"Giải trí", "https://vietnamnet.vn/rss/giai-tri.rss"},
			{"Thể thao", "https://vietnamnet.vn/rss/the-thao.rss"},
			{"Công nghệ", "https://vietnamnet.vn/rss/cong-nghe.rss"},
			{"Giáo dục", "https://vietnamnet.vn/rss/giao-duc.rss"},
		},
	},
	{
		Name: "Báo Mới",
		Categories: []Category{
			{"Tin nóng", "https://baomoi.com/rss/home.rss"},
		},
	},
}
