package engine

import (
	"fmt"
	"strings"
)

const priceRangeSystemPrompt = `你是一位资深商品分析师，擅长根据商品品类特性设置合理的价格区间。

## 任务
根据给定的商品品类，分析该品类的市场价格分布特点，设置合理的价格区间。

## 价格区间设置规则
1. **价格波动小的品类**：设置3个区间（低端、中端、高端）
2. **价格波动大的品类**：设置4-5个区间（入门、低端、中端、高端、旗舰）
3. **奢侈品/特殊品类**：可设置更多区间

## 输出要求
- 必须输出有效的JSON格式
- 价格单位：人民币（CNY）
- 价格必须是合理的整数
- 区间之间不能有重叠
- 必须包含区间描述

## JSON输出格式
{
  "category_name": "品类名称",
  "range_count": 区间数量,
  "price_ranges": [
    {
      "level": "区间名称",
      "min_price": 最低价格,
      "max_price": 最高价格,
      "order": 排序,
      "description": "区间描述"
    }
  ],
  "reasoning": "设置这些区间的理由"
}`

func priceRangeUserPrompt(categoryName string) string {
	return fmt.Sprintf(`请为以下商品品类设置价格区间：

**品类名称**: %s

请分析该品类的市场价格特点，设置合理的价格区间。

考虑因素：
1. 该品类商品的一般价格范围
2. 市场上是否存在明显的价格分层
3. 消费者对该品类的价格敏感度
4. 是否有奢侈品/入门级等特殊定位

输出JSON格式的价格区间配置。`, categoryName)
}

const dimensionSystemPrompt = `你是一位资深商品评测专家，擅长根据商品品类特性设置科学合理的评价维度。

## 核心原则
1. **品类特异性**: 不同品类的评价维度必须不同，不能千篇一律
2. **用户视角**: 维度必须是消费者真正关心的，而不是技术参数堆砌
3. **可比较性**: 维度必须能在同类商品间进行有效比较
4. **完整性**: 覆盖消费者决策的主要考量因素

## 维度数量规则
- 简单品类：3-5个维度
- 中等品类：5-8个维度
- 复杂品类：8-12个维度

## 输出要求
- 必须输出有效的JSON格式
- 每个维度必须有清晰的名称和代码
- 必须包含维度说明
- 可以设置权重（默认1.0）

## JSON输出格式
{
  "category_name": "品类名称",
  "dimension_count": 维度数量,
  "dimensions": [
    {
      "name": "维度名称",
      "code": "维度代码（英文小写+下划线）",
      "order": 排序,
      "description": "维度说明",
      "weight": 权重
    }
  ],
  "reasoning": "设置这些维度的理由"
}`

func dimensionUserPrompt(categoryName string) string {
	return fmt.Sprintf(`请为以下商品品类设置评价维度：

**品类名称**: %s

请分析：
1. 消费者购买该品类商品时最关心什么？
2. 该品类商品的核心差异点在哪里？
3. 哪些维度能真正区分商品优劣？
4. 是否有该品类特有的评价标准？

参考维度（请选择适合的，不要全部使用）：
品牌最佳、质量最好、性价比最高、功效最好、续航最长、设计最美观、
副作用最小、最智能、最轻便、音质最好、最舒适、负面作用最小、
消费者好评最好、服务最好、售后最好、耐用性最好、安全性最高、
环保性最好、创新性最强、外观最时尚

输出JSON格式的评价维度配置。`, categoryName)
}

const productSystemPrompt = `你是一位极其严谨的商品评测专家，你的评选结果将被数十万消费者参考。

## 核心原则
1. **真实性**: 推荐的商品必须真实存在，不能虚构
2. **专业性**: 评选理由必须专业、具体、有说服力
3. **客观性**: 基于事实和数据，而非主观偏好
4. **可验证**: 用户能根据你提供的信息验证商品存在

## 评选要求
1. **商品信息必须完整**:
   - 商品名称（准确完整）
   - 品牌名称
   - 公司名称及介绍
   - 具体型号
   - 当前市场价格

2. **评选理由必须充分**:
   - 为什么这款商品在该维度上表现最佳
   - 与竞品相比的核心优势
   - 具体的技术参数或用户反馈支撑
   - 至少300字的详细理由

3. **置信度评分**:
   - 根据信息可靠性给出0-100的置信度
   - 知名大品牌+官方数据 = 高置信度
   - 小众品牌+网络信息 = 低置信度

## JSON输出格式
{
  "product_name": "商品完整名称",
  "brand_name": "品牌名称",
  "company_name": "公司名称",
  "company_intro": "公司介绍（成立时间、总部、规模等）",
  "company_founded_year": 成立年份,
  "company_headquarters": "公司总部",
  "product_model": "具体型号",
  "price": 价格,
  "price_range_level": "所属价格区间",
  "dimension_name": "评选维度",
  "selection_reason": "详细评选理由（至少300字）",
  "confidence_score": 置信度评分(0-100),
  "data_sources": "数据来源（官网/电商平台/评测机构等）"
}`

func productUserPrompt(categoryName, rangeName string, minPrice float64, maxPrice *float64, rangeDesc, dimensionName, dimensionDesc string) string {
	maxStr := "不限"
	if maxPrice != nil {
		maxStr = fmt.Sprintf("%.0f", *maxPrice)
	}
	var b strings.Builder
	fmt.Fprintf(&b, `请为以下条件评选最佳商品：

## 品类信息
- **品类名称**: %s

## 价格区间
- **区间名称**: %s
- **价格范围**: ¥%.0f - ¥%s
- **区间描述**: %s

## 评选维度
- **维度名称**: %s
- **维度说明**: %s

## 评选任务
在该价格区间内，针对"%s"这一维度，评选出一款最佳商品。

## 注意事项
1. 商品必须真实存在，可在电商平台或官网查到
2. 价格必须在指定区间内
3. 评选理由要具体说明为什么在该维度上表现最佳
4. 如果是电子产品，提供关键参数
5. 如果是食品/美妆，提供核心成分或功效
6. 如果是服务类，提供具体服务内容

请输出JSON格式的最佳商品评选结果。`,
		categoryName, rangeName, minPrice, maxStr, rangeDesc, dimensionName, dimensionDesc, dimensionName)
	return b.String()
}
