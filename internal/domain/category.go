package domain

import (
	"slices"

	"github.com/cespare/xxhash/v2"
)

// CategoryVocabulary lists the known fire_type labels in display order. The order fixes
// each label's palette slot, so append new labels at the end.
var CategoryVocabulary = []string{
	"办公场所",
	"厂房",
	"学校",
	"居住场所",
	"其他",
	"商业场所",
	"公共娱乐场所",
	"纯餐饮场所",
	"石油化工企业",
	"轿车",
	"物资仓储场所",
	"工地",
	"宾馆、饭店、招待所",
	"通信场所",
	"货车",
	"汽车库",
	"垃圾堆",
	"交通枢纽（站）",
	"客车",
	"公园",
	"露天农副业场所",
	"加油加气站充电站",
	"宗教场所",
	"金融交易场所",
	"医疗机构",
	"养老院",
	"露天堆垛",
	"室外集贸市场",
	"科研试验场所",
	"室内农副业场所",
	"特种车",
	"城市轨道交通工具",
	"体育场馆",
	"文物古建筑",
	"会议、展览中心",
	"船舶",
	"道路绿化带、隔离带",
	"室外独立生产设施设备",
	"电动助力车（三轮车、自行车）",
	"垃圾箱",
	"森林",
	"废品回收场所",
	"修车库",
	"摩托车",
	"垃圾场",
	"文博馆（图书馆、博物馆、档案馆等）",
}

// categoryPalette concatenates the Dark2, Set1, Set2, Set3, Category10 and Tableau10
// schemes, giving more slots than vocabulary labels.
var categoryPalette = []string{
	// Dark2
	"#1b9e77", "#d95f02", "#7570b3", "#e7298a", "#66a61e", "#e6ab02", "#a6761d", "#666666",
	// Set1
	"#e41a1c", "#377eb8", "#4daf4a", "#984ea3", "#ff7f00", "#ffff33", "#a65628", "#f781bf", "#999999",
	// Set2
	"#66c2a5", "#fc8d62", "#8da0cb", "#e78ac3", "#a6d854", "#ffd92f", "#e5c494", "#b3b3b3",
	// Set3
	"#8dd3c7", "#ffffb3", "#bebada", "#fb8072", "#80b1d3", "#fdb462", "#b3de69", "#fccde5",
	"#d9d9d9", "#bc80bd", "#ccebc5", "#ffed6f",
	// Category10
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728", "#9467bd", "#8c564b", "#e377c2", "#7f7f7f",
	"#bcbd22", "#17becf",
	// Tableau10
	"#4e79a7", "#f28e2c", "#e15759", "#76b7b2", "#59a14f", "#edc949", "#af7aa1", "#ff9da7",
	"#9c755f", "#bab0ab",
}

// IsKnownCategory reports whether label is in the vocabulary.
func IsKnownCategory(label string) bool {
	return slices.Contains(CategoryVocabulary, label)
}

// CategoryColor maps a fire_type label to its display color. Vocabulary labels take the
// palette slot matching their position; other labels hash onto the palette so the same
// label always gets the same color regardless of which data has been loaded.
func CategoryColor(label string) string {
	if i := slices.Index(CategoryVocabulary, label); i >= 0 {
		return categoryPalette[i%len(categoryPalette)]
	}
	return categoryPalette[xxhash.Sum64String(label)%uint64(len(categoryPalette))]
}

// DefaultCategories returns a fresh set holding the whole vocabulary.
func DefaultCategories() CategorySet {
	return NewCategorySet(CategoryVocabulary)
}
